package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/grantline/grantline/pkg/orchestrator"
	"github.com/grantline/grantline/pkg/stores"
)

// maxSessionNameLen is the STS limit on role session names.
const maxSessionNameLen = 64

// Broker exchanges the central operator credential for short-lived,
// account-scoped credentials via cross-account role assumption. Credentials
// are used for exactly one deployment and never cached; if assumption fails
// there is no fallback to the operator credential.
type Broker struct {
	newSTS func(aws.Config) STSAPI
	retry  *orchestrator.Executor
}

// NewBroker creates a credential broker using the given retry executor.
func NewBroker(retry *orchestrator.Executor) *Broker {
	return &Broker{
		newSTS: NewSTS,
		retry:  retry,
	}
}

// WithSTSFactory substitutes the STS client factory, for tests.
func (b *Broker) WithSTSFactory(f func(aws.Config) STSAPI) *Broker {
	b.newSTS = f
	return b
}

// Assume performs the cross-account assume-role call for the target account
// and returns the temporary credentials. The session name is derived from
// the deployment ID for traceability in the target account's audit trail.
func (b *Broker) Assume(ctx context.Context, settings *stores.AwsSettings, targetAccount, deploymentID string) (aws.Credentials, error) {
	client := b.newSTS(OperatorConfig(settings))

	roleArn := fmt.Sprintf("arn:aws:iam::%s:role/%s", targetAccount, settings.CrossAccountRole)

	var out *sts.AssumeRoleOutput
	err := b.retry.Do(ctx, "sts.AssumeRole", func(ctx context.Context) error {
		var callErr error
		out, callErr = client.AssumeRole(ctx, &sts.AssumeRoleInput{
			RoleArn:         aws.String(roleArn),
			RoleSessionName: aws.String(SessionName(deploymentID)),
			DurationSeconds: aws.Int32(3600),
		})
		return Classify("sts.AssumeRole", callErr)
	})
	if err != nil {
		var e *orchestrator.DeployError
		if errors.As(err, &e) {
			e.WithAccount(targetAccount)
		}
		return aws.Credentials{}, err
	}

	c := out.Credentials
	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
		CanExpire:       true,
	}
	if c.Expiration != nil {
		creds.Expires = *c.Expiration
	}

	return creds, nil
}

// SessionName derives a valid STS session name from a deployment ID.
func SessionName(deploymentID string) string {
	name := "grantline-" + strings.ReplaceAll(deploymentID, ":", "-")
	if len(name) > maxSessionNameLen {
		name = name[:maxSessionNameLen]
	}
	return name
}
