package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"

	"github.com/grantline/grantline/pkg/cloud"
	"github.com/grantline/grantline/pkg/orchestrator"
	"github.com/grantline/grantline/pkg/stores"
	"github.com/grantline/grantline/pkg/telemetry"
)

// PermissionSetProvisioner executes the permission-set lifecycle in the
// configured SSO instance. The provisioning-to-account call is the step that
// actually grants access and is only reached after every policy attachment
// has succeeded.
type PermissionSetProvisioner struct {
	store  stores.Store
	retry  *orchestrator.Executor
	newSSO func(aws.Config) cloud.SSOAdminAPI
	log    *telemetry.Logger
}

// NewPermissionSetProvisioner creates a permission-set provisioner.
func NewPermissionSetProvisioner(store stores.Store, retry *orchestrator.Executor, log *telemetry.Logger) *PermissionSetProvisioner {
	return &PermissionSetProvisioner{
		store:  store,
		retry:  retry,
		newSSO: cloud.NewSSOAdmin,
		log:    log.NewComponentLogger("provision.permissionset"),
	}
}

// WithSSOFactory substitutes the SSO admin client factory, for tests.
func (p *PermissionSetProvisioner) WithSSOFactory(f func(aws.Config) cloud.SSOAdminAPI) *PermissionSetProvisioner {
	p.newSSO = f
	return p
}

// Apply executes the deployment's action for its permission-set definition.
func (p *PermissionSetProvisioner) Apply(ctx context.Context, dep *stores.Deployment, settings *stores.AwsSettings) error {
	ps, err := p.store.GetPermissionSet(ctx, dep.ResourceID)
	if err != nil {
		appendError(ctx, p.store, p.log, dep.ID, "failed to load permission set definition", err, nil)
		return err
	}

	if settings.SSOInstanceArn == "" {
		err := orchestrator.NewPermanentError("no SSO instance configured", nil).
			WithCode(orchestrator.ErrCodeValidation)
		appendError(ctx, p.store, p.log, dep.ID, "permission set deployment rejected", err, nil)
		return err
	}

	var applyErr error
	switch dep.Action {
	case stores.ActionCreate:
		applyErr = p.create(ctx, dep, settings, ps)
	case stores.ActionDelete:
		// Deprovisioning semantics (ordering against assignment removal,
		// handling of already-removed assignments) are not settled, so delete
		// records intent without touching the SSO instance.
		appendInfo(ctx, p.store, p.log, dep.ID,
			fmt.Sprintf("delete requested for permission set %s; remote deprovisioning is not performed", ps.Name),
			map[string]interface{}{
				"permission_set": ps.Name,
				"account":        dep.TargetAccount,
			})
		return nil
	default:
		applyErr = orchestrator.NewPermanentError(fmt.Sprintf("unsupported action %q for permission sets", dep.Action), nil).
			WithCode(orchestrator.ErrCodeValidation)
	}

	if applyErr != nil {
		appendError(ctx, p.store, p.log, dep.ID, fmt.Sprintf("permission set %s failed", dep.Action), applyErr, map[string]interface{}{
			"permission_set": ps.Name,
			"account":        dep.TargetAccount,
		})
		return applyErr
	}

	return nil
}

// create builds the permission set, attaches its policies, and provisions it
// against the target account.
func (p *PermissionSetProvisioner) create(ctx context.Context, dep *stores.Deployment, settings *stores.AwsSettings, ps *stores.PermissionSet) error {
	// The SSO instance lives in the management account, so these calls use
	// the operator credentials rather than broker-scoped ones.
	client := p.newSSO(cloud.OperatorConfig(settings))

	var permissionSetArn string
	err := p.retry.Do(ctx, "sso.CreatePermissionSet", func(ctx context.Context) error {
		out, callErr := client.CreatePermissionSet(ctx, &ssoadmin.CreatePermissionSetInput{
			InstanceArn:     aws.String(settings.SSOInstanceArn),
			Name:            aws.String(ps.Name),
			Description:     aws.String(ps.Description),
			SessionDuration: aws.String(ps.SessionDuration),
			Tags: []ssotypes.Tag{
				{
					Key:   aws.String(managedByTagKey),
					Value: aws.String(managedByTagValue),
				},
			},
		})
		if callErr != nil {
			return cloud.Classify("sso.CreatePermissionSet", callErr)
		}
		permissionSetArn = aws.ToString(out.PermissionSet.PermissionSetArn)
		return nil
	})
	if err != nil {
		return err
	}

	for _, arn := range ps.ManagedPolicyArns {
		arn := arn
		err := p.retry.Do(ctx, "sso.AttachManagedPolicyToPermissionSet", func(ctx context.Context) error {
			_, callErr := client.AttachManagedPolicyToPermissionSet(ctx, &ssoadmin.AttachManagedPolicyToPermissionSetInput{
				InstanceArn:      aws.String(settings.SSOInstanceArn),
				PermissionSetArn: aws.String(permissionSetArn),
				ManagedPolicyArn: aws.String(arn),
			})
			return cloud.Classify("sso.AttachManagedPolicyToPermissionSet", callErr)
		})
		if err != nil {
			return err
		}
	}

	if ps.InlinePolicy != nil && *ps.InlinePolicy != "" {
		err := p.retry.Do(ctx, "sso.PutInlinePolicyToPermissionSet", func(ctx context.Context) error {
			_, callErr := client.PutInlinePolicyToPermissionSet(ctx, &ssoadmin.PutInlinePolicyToPermissionSetInput{
				InstanceArn:      aws.String(settings.SSOInstanceArn),
				PermissionSetArn: aws.String(permissionSetArn),
				InlinePolicy:     ps.InlinePolicy,
			})
			return cloud.Classify("sso.PutInlinePolicyToPermissionSet", callErr)
		})
		if err != nil {
			return err
		}
	}

	// Only reached after all attachments succeeded; this is the call that
	// makes the assignment effective in the target account.
	err = p.retry.Do(ctx, "sso.ProvisionPermissionSet", func(ctx context.Context) error {
		_, callErr := client.ProvisionPermissionSet(ctx, &ssoadmin.ProvisionPermissionSetInput{
			InstanceArn:      aws.String(settings.SSOInstanceArn),
			PermissionSetArn: aws.String(permissionSetArn),
			TargetId:         aws.String(dep.TargetAccount),
			TargetType:       ssotypes.ProvisionTargetTypeAwsAccount,
		})
		return cloud.Classify("sso.ProvisionPermissionSet", callErr)
	})
	if err != nil {
		return err
	}

	appendInfo(ctx, p.store, p.log, dep.ID,
		fmt.Sprintf("created permission set %s and provisioned it to account %s", ps.Name, dep.TargetAccount),
		map[string]interface{}{
			"permission_set":     ps.Name,
			"permission_set_arn": permissionSetArn,
			"account":            dep.TargetAccount,
			"managed_policies":   ps.ManagedPolicyArns,
		})

	return nil
}
