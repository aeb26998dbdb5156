// Package notify publishes deployment status transitions to an SNS topic.
// Publishing is strictly best-effort: a notifier failure is recorded and
// logged but never affects the deployment outcome.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/grantline/grantline/pkg/cloud"
	"github.com/grantline/grantline/pkg/stores"
	"github.com/grantline/grantline/pkg/telemetry"
)

// StatusMessage is the JSON body published for each status transition.
type StatusMessage struct {
	DeploymentID  string `json:"deployment_id"`
	Status        string `json:"status"`
	ResourceType  string `json:"resource_type"`
	ResourceID    string `json:"resource_id"`
	ResourceName  string `json:"resource_name,omitempty"`
	TargetAccount string `json:"target_account"`
	Action        string `json:"action"`
	Timestamp     string `json:"timestamp"`
}

// StatusNotifier publishes deployment status messages to the configured SNS
// topic. With no topic configured, publishing is a silent no-op.
type StatusNotifier struct {
	store   stores.Store
	newSNS  func(aws.Config) cloud.SNSAPI
	metrics *telemetry.Metrics
	log     *telemetry.Logger
	now     func() time.Time
}

// NewStatusNotifier creates a status notifier.
func NewStatusNotifier(store stores.Store, metrics *telemetry.Metrics, log *telemetry.Logger) *StatusNotifier {
	return &StatusNotifier{
		store:   store,
		newSNS:  cloud.NewSNS,
		metrics: metrics,
		log:     log.NewComponentLogger("notify"),
		now:     time.Now,
	}
}

// WithSNSFactory substitutes the SNS client factory, for tests.
func (n *StatusNotifier) WithSNSFactory(f func(aws.Config) cloud.SNSAPI) *StatusNotifier {
	n.newSNS = f
	return n
}

// PublishStatus publishes the deployment's current status. All failure paths
// log and return; the caller never observes an error.
func (n *StatusNotifier) PublishStatus(ctx context.Context, deploymentID string) {
	log := n.log.WithDeploymentID(deploymentID)

	settings, err := n.store.GetAwsSettings(ctx)
	if err != nil {
		log.WithError(err).Error("notifier: failed to load aws settings")
		n.metrics.RecordNotifierFailure()
		return
	}
	if settings.SNSTopicArn == "" {
		return
	}

	dep, err := n.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		log.WithError(err).Error("notifier: failed to load deployment")
		n.metrics.RecordNotifierFailure()
		return
	}

	msg := StatusMessage{
		DeploymentID:  dep.ID,
		Status:        string(dep.Status),
		ResourceType:  string(dep.ResourceType),
		ResourceID:    dep.ResourceID,
		ResourceName:  n.resourceName(ctx, dep),
		TargetAccount: dep.TargetAccount,
		Action:        string(dep.Action),
		Timestamp:     n.now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("notifier: failed to encode status message")
		n.metrics.RecordNotifierFailure()
		return
	}

	client := n.newSNS(cloud.OperatorConfig(settings))
	_, err = client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(settings.SNSTopicArn),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(dep.Status)),
			},
			"resource_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(dep.ResourceType)),
			},
			"target_account": {
				DataType:    aws.String("String"),
				StringValue: aws.String(dep.TargetAccount),
			},
		},
	})
	if err != nil {
		log.WithError(err).Errorf("notifier: failed to publish status %s", dep.Status)
		n.metrics.RecordNotifierFailure()
		return
	}

	n.metrics.RecordNotifierPublish()
	log.Debugf("published status %s", dep.Status)
}

// resourceName resolves the human-readable name of the deployment's resource.
// Resolution failures degrade to an empty name rather than failing the
// notification.
func (n *StatusNotifier) resourceName(ctx context.Context, dep *stores.Deployment) string {
	switch dep.ResourceType {
	case stores.ResourceTypeRole:
		if role, err := n.store.GetRole(ctx, dep.ResourceID); err == nil {
			return role.Name
		}
	case stores.ResourceTypePermissionSet:
		if ps, err := n.store.GetPermissionSet(ctx, dep.ResourceID); err == nil {
			return ps.Name
		}
	}
	return ""
}
