package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/grantline/grantline/pkg/cloud"
	"github.com/grantline/grantline/pkg/orchestrator"
	"github.com/grantline/grantline/pkg/stores"
	"github.com/grantline/grantline/pkg/telemetry"
)

// RoleProvisioner executes the create/update/delete lifecycle for IAM roles
// against one target account. Every remote call is individually wrapped by
// the retry executor; each branch appends one INFO log entry on success and
// one ERROR entry (then re-throws) on failure.
type RoleProvisioner struct {
	store  stores.Store
	broker *cloud.Broker
	retry  *orchestrator.Executor
	newIAM func(aws.Config) cloud.IAMAPI
	log    *telemetry.Logger
}

// NewRoleProvisioner creates a role provisioner.
func NewRoleProvisioner(store stores.Store, broker *cloud.Broker, retry *orchestrator.Executor, log *telemetry.Logger) *RoleProvisioner {
	return &RoleProvisioner{
		store:  store,
		broker: broker,
		retry:  retry,
		newIAM: cloud.NewIAM,
		log:    log.NewComponentLogger("provision.role"),
	}
}

// WithIAMFactory substitutes the IAM client factory, for tests.
func (p *RoleProvisioner) WithIAMFactory(f func(aws.Config) cloud.IAMAPI) *RoleProvisioner {
	p.newIAM = f
	return p
}

// Apply executes the deployment's action for its role definition.
func (p *RoleProvisioner) Apply(ctx context.Context, dep *stores.Deployment, settings *stores.AwsSettings) error {
	role, err := p.store.GetRole(ctx, dep.ResourceID)
	if err != nil {
		appendError(ctx, p.store, p.log, dep.ID, "failed to load role definition", err, nil)
		return err
	}

	creds, err := p.broker.Assume(ctx, settings, dep.TargetAccount, dep.ID)
	if err != nil {
		appendError(ctx, p.store, p.log, dep.ID, "failed to assume cross-account role", err, map[string]interface{}{
			"account": dep.TargetAccount,
		})
		return err
	}

	client := p.newIAM(cloud.ScopedConfig(settings.Region, creds))

	var applyErr error
	switch dep.Action {
	case stores.ActionCreate:
		applyErr = p.create(ctx, client, dep, role)
	case stores.ActionUpdate:
		applyErr = p.update(ctx, client, dep, role)
	case stores.ActionDelete:
		applyErr = p.delete(ctx, client, dep, role)
	default:
		applyErr = orchestrator.NewPermanentError(fmt.Sprintf("unsupported action %q", dep.Action), nil).
			WithCode(orchestrator.ErrCodeValidation)
	}

	if applyErr != nil {
		appendError(ctx, p.store, p.log, dep.ID, fmt.Sprintf("role %s failed", dep.Action), applyErr, map[string]interface{}{
			"role":    role.Name,
			"account": dep.TargetAccount,
		})
		return applyErr
	}

	return nil
}

// create provisions the role with its trust policy and attaches every listed
// policy. A role that already exists is not an error; the attachments still
// run so a partially-created role converges.
func (p *RoleProvisioner) create(ctx context.Context, client cloud.IAMAPI, dep *stores.Deployment, role *stores.Role) error {
	err := p.retry.Do(ctx, "iam.CreateRole", func(ctx context.Context) error {
		_, callErr := client.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 aws.String(role.Name),
			AssumeRolePolicyDocument: aws.String(role.TrustPolicy),
			Description:              aws.String(role.Description),
			MaxSessionDuration:       aws.Int32(role.MaxSessionDuration),
			Tags:                     managementTags(),
		})
		return cloud.Classify("iam.CreateRole", callErr)
	})
	if err != nil && !cloud.IsAlreadyExists(err) {
		return err
	}

	if err := p.attachPolicies(ctx, client, role); err != nil {
		return err
	}

	appendInfo(ctx, p.store, p.log, dep.ID,
		fmt.Sprintf("created role %s with %d attached policies", role.Name, len(role.PolicyArns)),
		map[string]interface{}{
			"role":     role.Name,
			"account":  dep.TargetAccount,
			"policies": role.PolicyArns,
		})

	return nil
}

// update fetches the existing role and updates it in place. A role that does
// not exist falls back to the create path: missing-on-update is treated as
// create, not as an error.
func (p *RoleProvisioner) update(ctx context.Context, client cloud.IAMAPI, dep *stores.Deployment, role *stores.Role) error {
	err := p.retry.Do(ctx, "iam.GetRole", func(ctx context.Context) error {
		_, callErr := client.GetRole(ctx, &iam.GetRoleInput{
			RoleName: aws.String(role.Name),
		})
		return cloud.Classify("iam.GetRole", callErr)
	})
	if cloud.IsNotFound(err) {
		return p.create(ctx, client, dep, role)
	}
	if err != nil {
		return err
	}

	err = p.retry.Do(ctx, "iam.UpdateRole", func(ctx context.Context) error {
		_, callErr := client.UpdateRole(ctx, &iam.UpdateRoleInput{
			RoleName:           aws.String(role.Name),
			Description:        aws.String(role.Description),
			MaxSessionDuration: aws.Int32(role.MaxSessionDuration),
		})
		return cloud.Classify("iam.UpdateRole", callErr)
	})
	if err != nil {
		return err
	}

	if err := p.attachPolicies(ctx, client, role); err != nil {
		return err
	}

	appendInfo(ctx, p.store, p.log, dep.ID,
		fmt.Sprintf("updated role %s", role.Name),
		map[string]interface{}{
			"role":     role.Name,
			"account":  dep.TargetAccount,
			"policies": role.PolicyArns,
		})

	return nil
}

// delete detaches every attached policy and removes the role. A role that
// does not exist is a successful no-op.
func (p *RoleProvisioner) delete(ctx context.Context, client cloud.IAMAPI, dep *stores.Deployment, role *stores.Role) error {
	var attached []iamtypes.AttachedPolicy
	err := p.retry.Do(ctx, "iam.ListAttachedRolePolicies", func(ctx context.Context) error {
		out, callErr := client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
			RoleName: aws.String(role.Name),
		})
		if callErr != nil {
			return cloud.Classify("iam.ListAttachedRolePolicies", callErr)
		}
		attached = out.AttachedPolicies
		return nil
	})
	if cloud.IsNotFound(err) {
		appendInfo(ctx, p.store, p.log, dep.ID,
			fmt.Sprintf("role %s already absent, nothing to delete", role.Name),
			map[string]interface{}{
				"role":    role.Name,
				"account": dep.TargetAccount,
			})
		return nil
	}
	if err != nil {
		return err
	}

	for _, policy := range attached {
		arn := aws.ToString(policy.PolicyArn)
		err := p.retry.Do(ctx, "iam.DetachRolePolicy", func(ctx context.Context) error {
			_, callErr := client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
				RoleName:  aws.String(role.Name),
				PolicyArn: aws.String(arn),
			})
			return cloud.Classify("iam.DetachRolePolicy", callErr)
		})
		if err != nil && !cloud.IsNotFound(err) {
			return err
		}
	}

	err = p.retry.Do(ctx, "iam.DeleteRole", func(ctx context.Context) error {
		_, callErr := client.DeleteRole(ctx, &iam.DeleteRoleInput{
			RoleName: aws.String(role.Name),
		})
		return cloud.Classify("iam.DeleteRole", callErr)
	})
	if err != nil && !cloud.IsNotFound(err) {
		return err
	}

	appendInfo(ctx, p.store, p.log, dep.ID,
		fmt.Sprintf("deleted role %s (%d policies detached)", role.Name, len(attached)),
		map[string]interface{}{
			"role":    role.Name,
			"account": dep.TargetAccount,
		})

	return nil
}

// attachPolicies attaches each listed policy ARN, each call independently
// retried.
func (p *RoleProvisioner) attachPolicies(ctx context.Context, client cloud.IAMAPI, role *stores.Role) error {
	for _, arn := range role.PolicyArns {
		arn := arn
		err := p.retry.Do(ctx, "iam.AttachRolePolicy", func(ctx context.Context) error {
			_, callErr := client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
				RoleName:  aws.String(role.Name),
				PolicyArn: aws.String(arn),
			})
			return cloud.Classify("iam.AttachRolePolicy", callErr)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func managementTags() []iamtypes.Tag {
	return []iamtypes.Tag{
		{
			Key:   aws.String(managedByTagKey),
			Value: aws.String(managedByTagValue),
		},
	}
}
