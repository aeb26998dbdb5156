package provision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/grantline/grantline/pkg/cloud"
	"github.com/grantline/grantline/pkg/orchestrator"
	"github.com/grantline/grantline/pkg/stores"
)

// e2eStore adds deployment tracking on top of the definition stub.
type e2eStore struct {
	defStore
	depMu       sync.Mutex
	deployments map[string]*stores.Deployment
}

func (s *e2eStore) CreateDeployment(_ context.Context, d *stores.Deployment) error {
	s.depMu.Lock()
	defer s.depMu.Unlock()
	s.deployments[d.ID] = d
	return nil
}

func (s *e2eStore) GetDeployment(_ context.Context, id string) (*stores.Deployment, error) {
	s.depMu.Lock()
	defer s.depMu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (s *e2eStore) SetDeploymentStatus(_ context.Context, id string, status stores.DeploymentStatus) error {
	s.depMu.Lock()
	defer s.depMu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return stores.ErrNotFound
	}
	d.Status = status
	return nil
}

func (s *e2eStore) GetAwsSettings(context.Context) (*stores.AwsSettings, error) {
	return settings(), nil
}

func (s *e2eStore) status(id string) stores.DeploymentStatus {
	s.depMu.Lock()
	defer s.depMu.Unlock()
	return s.deployments[id].Status
}

// TestRoleCreateThroughQueue drives a role CREATE deployment through the
// queue and the real provisioner against fake cloud clients: accepted as
// pending, executed serially, finished COMPLETED with an audit trail.
func TestRoleCreateThroughQueue(t *testing.T) {
	store := &e2eStore{
		defStore:    defStore{role: testRole()},
		deployments: make(map[string]*stores.Deployment),
	}
	iamMock := &mockIAM{}
	retry := fastExecutor()
	broker := cloud.NewBroker(retry).WithSTSFactory(func(aws.Config) cloud.STSAPI { return stubSTS() })
	prov := NewRoleProvisioner(store, broker, retry, testLogger(t)).
		WithIAMFactory(func(aws.Config) cloud.IAMAPI { return iamMock })

	queue := orchestrator.NewQueue(store, nil, map[stores.ResourceType]orchestrator.Provisioner{
		stores.ResourceTypeRole: prov,
	}, testLogger(t), orchestrator.WithCooldown(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := queue.Start(ctx); err != nil {
		t.Fatal(err)
	}

	dep := roleDeployment(stores.ActionCreate)
	dep.Status = stores.DeploymentStatusPending
	if err := store.CreateDeployment(ctx, dep); err != nil {
		t.Fatal(err)
	}
	queue.Enqueue(dep.ID)

	deadline := time.Now().Add(5 * time.Second)
	for !store.status(dep.ID).IsTerminal() {
		if time.Now().After(deadline) {
			t.Fatal("deployment did not finish")
		}
		time.Sleep(time.Millisecond)
	}

	if got := store.status(dep.ID); got != stores.DeploymentStatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if len(iamMock.createCalls) != 1 || len(iamMock.attachCalls) != 2 {
		t.Errorf("unexpected cloud calls: create=%d attach=%d", len(iamMock.createCalls), len(iamMock.attachCalls))
	}

	logs := store.appendedLogs()
	if len(logs) == 0 {
		t.Fatal("expected an audit trail")
	}
	last := logs[len(logs)-1]
	if last.Level != stores.LogLevelInfo {
		t.Errorf("expected final info entry, got %+v", last)
	}
}
