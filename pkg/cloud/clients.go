package cloud

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/grantline/grantline/pkg/stores"
)

// OperatorConfig builds an AWS config from the central operator credentials
// in the settings row.
func OperatorConfig(settings *stores.AwsSettings) aws.Config {
	return aws.Config{
		Region: settings.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			settings.AccessKeyID,
			settings.SecretAccessKey,
			"",
		),
	}
}

// ScopedConfig builds an AWS config from temporary account-scoped
// credentials returned by the broker. The config lives for exactly one
// deployment and is then discarded.
func ScopedConfig(region string, creds aws.Credentials) aws.Config {
	return aws.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		),
	}
}

// Default client factories. The provisioners, notifier, and sweep hold these
// as fields so tests can substitute fakes.

// NewIAM returns a real IAM client.
func NewIAM(cfg aws.Config) IAMAPI {
	return iam.NewFromConfig(cfg)
}

// NewSSOAdmin returns a real SSO admin client.
func NewSSOAdmin(cfg aws.Config) SSOAdminAPI {
	return ssoadmin.NewFromConfig(cfg)
}

// NewSTS returns a real STS client.
func NewSTS(cfg aws.Config) STSAPI {
	return sts.NewFromConfig(cfg)
}

// NewSNS returns a real SNS client.
func NewSNS(cfg aws.Config) SNSAPI {
	return sns.NewFromConfig(cfg)
}

// NewOrganizations returns a real Organizations client.
func NewOrganizations(cfg aws.Config) OrganizationsAPI {
	return organizations.NewFromConfig(cfg)
}
