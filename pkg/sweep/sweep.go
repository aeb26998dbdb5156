// Package sweep probes every active account in the organization for
// cross-account role assumability, surfacing accounts the orchestrator could
// not deploy into before a deployment is ever queued against them.
package sweep

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"

	"github.com/grantline/grantline/pkg/cloud"
	"github.com/grantline/grantline/pkg/stores"
	"github.com/grantline/grantline/pkg/telemetry"
)

// AccountResult is the probe outcome for one account.
type AccountResult struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Assumable bool   `json:"assumable"`
	Error     string `json:"error,omitempty"`
}

// Sweeper enumerates the organization's active accounts and attempts a
// cross-account role assumption into each one.
type Sweeper struct {
	broker  *cloud.Broker
	newOrgs func(aws.Config) cloud.OrganizationsAPI
	log     *telemetry.Logger
}

// NewSweeper creates a sweeper using the given credential broker.
func NewSweeper(broker *cloud.Broker, log *telemetry.Logger) *Sweeper {
	return &Sweeper{
		broker:  broker,
		newOrgs: cloud.NewOrganizations,
		log:     log.NewComponentLogger("sweep"),
	}
}

// WithOrganizationsFactory substitutes the Organizations client factory, for
// tests.
func (s *Sweeper) WithOrganizationsFactory(f func(aws.Config) cloud.OrganizationsAPI) *Sweeper {
	s.newOrgs = f
	return s
}

// Run lists all active accounts and probes each for assumability. Probe
// failures are captured per account; only listing failures abort the sweep.
func (s *Sweeper) Run(ctx context.Context, settings *stores.AwsSettings) ([]AccountResult, error) {
	accounts, err := s.listActiveAccounts(ctx, settings)
	if err != nil {
		return nil, err
	}

	results := make([]AccountResult, 0, len(accounts))
	for _, account := range accounts {
		id := aws.ToString(account.Id)
		result := AccountResult{
			AccountID: id,
			Name:      aws.ToString(account.Name),
		}

		_, err := s.broker.Assume(ctx, settings, id, "sweep")
		if err != nil {
			result.Error = err.Error()
			s.log.WithAccount(id).WithError(err).Warn("account not assumable")
		} else {
			result.Assumable = true
			s.log.WithAccount(id).Debug("account assumable")
		}

		results = append(results, result)
	}

	return results, nil
}

// listActiveAccounts pages through the organization's accounts, keeping only
// those in ACTIVE status.
func (s *Sweeper) listActiveAccounts(ctx context.Context, settings *stores.AwsSettings) ([]orgtypes.Account, error) {
	client := s.newOrgs(cloud.OperatorConfig(settings))

	var accounts []orgtypes.Account
	var nextToken *string
	for {
		out, err := client.ListAccounts(ctx, &organizations.ListAccountsInput{
			NextToken: nextToken,
		})
		if err != nil {
			return nil, cloud.Classify("organizations.ListAccounts", err)
		}

		for _, account := range out.Accounts {
			if account.Status == orgtypes.AccountStatusActive {
				accounts = append(accounts, account)
			}
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	return accounts, nil
}
