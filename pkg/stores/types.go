// Package stores provides the SQLite-backed persistence layer for
// deployments, their append-only logs, the role and permission-set
// definitions the orchestrator reads, and the global AWS settings row.
package stores

import (
	"context"
	"time"
)

// DeploymentStatus represents the lifecycle state of a deployment.
// Transitions are monotonic: pending -> in_progress -> {completed, failed}.
type DeploymentStatus string

const (
	DeploymentStatusPending    DeploymentStatus = "pending"
	DeploymentStatusInProgress DeploymentStatus = "in_progress"
	DeploymentStatusCompleted  DeploymentStatus = "completed"
	DeploymentStatusFailed     DeploymentStatus = "failed"
)

// IsTerminal returns true for completed and failed.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentStatusCompleted || s == DeploymentStatusFailed
}

// ResourceType identifies which provisioner handles a deployment.
type ResourceType string

const (
	ResourceTypeRole          ResourceType = "role"
	ResourceTypePermissionSet ResourceType = "permission_set"
)

// DeploymentAction is the requested lifecycle operation.
type DeploymentAction string

const (
	ActionCreate DeploymentAction = "create"
	ActionUpdate DeploymentAction = "update"
	ActionDelete DeploymentAction = "delete"
)

// LogLevel is the severity of a deployment log entry.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
)

// Deployment is one request to apply a single resource with one action to one
// target account.
type Deployment struct {
	ID            string           `json:"id"`
	TargetAccount string           `json:"target_account"`
	ResourceType  ResourceType     `json:"resource_type"`
	ResourceID    string           `json:"resource_id"`
	Action        DeploymentAction `json:"action"`
	Status        DeploymentStatus `json:"status"`
	RequestedBy   string           `json:"requested_by"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// DeploymentLog is an append-only log entry belonging to one deployment.
type DeploymentLog struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Level        LogLevel  `json:"level"`
	Message      string    `json:"message"`
	Details      *string   `json:"details,omitempty"` // JSON blob
	CreatedAt    time.Time `json:"created_at"`
}

// Role is an IAM role definition. Read-only to the orchestrator; its
// lifecycle is owned by the definition CRUD surface.
type Role struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	TrustPolicy        string    `json:"trust_policy"` // JSON policy document
	MaxSessionDuration int32     `json:"max_session_duration"`
	PolicyArns         []string  `json:"policy_arns"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// PermissionSet is an SSO permission-set definition. Read-only to the
// orchestrator.
type PermissionSet struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	SessionDuration   string    `json:"session_duration"` // ISO 8601, e.g. PT1H
	ManagedPolicyArns []string  `json:"managed_policy_arns"`
	InlinePolicy      *string   `json:"inline_policy,omitempty"` // JSON policy document
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AwsSettings is the single global configuration row: operator credentials,
// region, the cross-account role every target account trusts, the SSO
// instance, and the optional notification topic.
type AwsSettings struct {
	Region           string    `json:"region"`
	AccessKeyID      string    `json:"access_key_id"`
	SecretAccessKey  string    `json:"-"`
	CrossAccountRole string    `json:"cross_account_role"`
	SSOInstanceArn   string    `json:"sso_instance_arn"`
	SNSTopicArn      string    `json:"sns_topic_arn"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Store defines the persistence boundary required by the orchestrator and
// the API layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Deployment operations
	CreateDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error)
	SetDeploymentStatus(ctx context.Context, id string, status DeploymentStatus) error

	// DeploymentLog operations (append-only)
	AppendDeploymentLog(ctx context.Context, entry *DeploymentLog) error
	GetDeploymentLogs(ctx context.Context, deploymentID string) ([]*DeploymentLog, error)

	// Definition reads (and the minimal writes the API surface needs)
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	ListRoles(ctx context.Context, limit, offset int) ([]*Role, error)
	CreatePermissionSet(ctx context.Context, ps *PermissionSet) error
	GetPermissionSet(ctx context.Context, id string) (*PermissionSet, error)
	ListPermissionSets(ctx context.Context, limit, offset int) ([]*PermissionSet, error)

	// Settings
	GetAwsSettings(ctx context.Context) (*AwsSettings, error)
	PutAwsSettings(ctx context.Context, settings *AwsSettings) error

	// Utility
	HealthCheck(ctx context.Context) error
}
