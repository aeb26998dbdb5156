// Package provision implements the per-resource-type provisioning procedures:
// the create/update/delete lifecycle for IAM roles and SSO permission sets,
// executed against one target account with broker-scoped credentials.
package provision

import (
	"context"
	"encoding/json"

	"github.com/grantline/grantline/pkg/orchestrator"
	"github.com/grantline/grantline/pkg/stores"
	"github.com/grantline/grantline/pkg/telemetry"
)

// managedByTagKey and managedByTagValue mark remote resources as owned by the
// orchestrator.
const (
	managedByTagKey   = "ManagedBy"
	managedByTagValue = "grantline"
)

// appendInfo appends an INFO log entry to a deployment. Failures to persist
// the entry are logged locally; they do not fail the deployment.
func appendInfo(ctx context.Context, store stores.Store, log *telemetry.Logger, deploymentID, message string, details map[string]interface{}) {
	appendEntry(ctx, store, log, deploymentID, stores.LogLevelInfo, message, details)
}

// appendError appends an ERROR log entry carrying the error message and its
// classification alongside any caller-supplied context.
func appendError(ctx context.Context, store stores.Store, log *telemetry.Logger, deploymentID, message string, err error, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["error"] = err.Error()
	details["error_class"] = string(orchestrator.ErrorClassOf(err))
	appendEntry(ctx, store, log, deploymentID, stores.LogLevelError, message, details)
}

func appendEntry(ctx context.Context, store stores.Store, log *telemetry.Logger, deploymentID string, level stores.LogLevel, message string, details map[string]interface{}) {
	entry := &stores.DeploymentLog{
		DeploymentID: deploymentID,
		Level:        level,
		Message:      message,
	}

	if len(details) > 0 {
		if encoded, err := json.Marshal(details); err == nil {
			s := string(encoded)
			entry.Details = &s
		}
	}

	if err := store.AppendDeploymentLog(ctx, entry); err != nil {
		log.WithDeploymentID(deploymentID).WithError(err).Error("failed to append deployment log entry")
	}
}
