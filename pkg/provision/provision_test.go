package provision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grantline/grantline/pkg/orchestrator"
	"github.com/grantline/grantline/pkg/stores"
	"github.com/grantline/grantline/pkg/telemetry"
)

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func fastExecutor() *orchestrator.Executor {
	return orchestrator.NewExecutor(orchestrator.RetryPolicy{
		MaxRetries:   5,
		InitialDelay: time.Microsecond,
		MaxDelay:     time.Microsecond,
	})
}

// defStore is a definition store stub: fixed role and permission-set
// definitions plus a recorded log trail.
type defStore struct {
	mu   sync.Mutex
	role *stores.Role
	ps   *stores.PermissionSet
	logs []*stores.DeploymentLog
}

func (s *defStore) appendedLogs() []*stores.DeploymentLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*stores.DeploymentLog(nil), s.logs...)
}

func (s *defStore) lastLog() *stores.DeploymentLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.logs) == 0 {
		return nil
	}
	return s.logs[len(s.logs)-1]
}

func (s *defStore) Init(context.Context) error    { return nil }
func (s *defStore) Close() error                  { return nil }
func (s *defStore) Migrate(context.Context) error { return nil }

func (s *defStore) CreateDeployment(context.Context, *stores.Deployment) error { return nil }
func (s *defStore) GetDeployment(context.Context, string) (*stores.Deployment, error) {
	return nil, stores.ErrNotFound
}
func (s *defStore) ListDeployments(context.Context, int, int) ([]*stores.Deployment, error) {
	return nil, nil
}
func (s *defStore) SetDeploymentStatus(context.Context, string, stores.DeploymentStatus) error {
	return nil
}

func (s *defStore) AppendDeploymentLog(_ context.Context, entry *stores.DeploymentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *defStore) GetDeploymentLogs(context.Context, string) ([]*stores.DeploymentLog, error) {
	return s.appendedLogs(), nil
}

func (s *defStore) CreateRole(context.Context, *stores.Role) error { return nil }
func (s *defStore) GetRole(_ context.Context, id string) (*stores.Role, error) {
	if s.role == nil || s.role.ID != id {
		return nil, stores.ErrNotFound
	}
	return s.role, nil
}
func (s *defStore) ListRoles(context.Context, int, int) ([]*stores.Role, error) { return nil, nil }

func (s *defStore) CreatePermissionSet(context.Context, *stores.PermissionSet) error { return nil }
func (s *defStore) GetPermissionSet(_ context.Context, id string) (*stores.PermissionSet, error) {
	if s.ps == nil || s.ps.ID != id {
		return nil, stores.ErrNotFound
	}
	return s.ps, nil
}
func (s *defStore) ListPermissionSets(context.Context, int, int) ([]*stores.PermissionSet, error) {
	return nil, nil
}

func (s *defStore) GetAwsSettings(context.Context) (*stores.AwsSettings, error) {
	return &stores.AwsSettings{Region: "us-east-1", CrossAccountRole: "GrantlineDeploy"}, nil
}
func (s *defStore) PutAwsSettings(context.Context, *stores.AwsSettings) error { return nil }

func (s *defStore) HealthCheck(context.Context) error { return nil }
