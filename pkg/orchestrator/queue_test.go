package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

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

// memStore is an in-memory stores.Store covering what the queue touches.
type memStore struct {
	mu          sync.Mutex
	deployments map[string]*stores.Deployment
	logs        []*stores.DeploymentLog
	settings    *stores.AwsSettings
	settingsErr error
}

func newMemStore() *memStore {
	return &memStore{
		deployments: make(map[string]*stores.Deployment),
		settings:    &stores.AwsSettings{Region: "us-east-1", CrossAccountRole: "GrantlineDeploy"},
	}
}

func (s *memStore) addDeployment(id string, rt stores.ResourceType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[id] = &stores.Deployment{
		ID:            id,
		TargetAccount: "123456789012",
		ResourceType:  rt,
		ResourceID:    "res-" + id,
		Action:        stores.ActionCreate,
		Status:        stores.DeploymentStatusPending,
	}
}

func (s *memStore) status(id string) stores.DeploymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deployments[id].Status
}

func (s *memStore) Init(context.Context) error    { return nil }
func (s *memStore) Close() error                  { return nil }
func (s *memStore) Migrate(context.Context) error { return nil }

func (s *memStore) CreateDeployment(_ context.Context, d *stores.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[d.ID] = d
	return nil
}

func (s *memStore) GetDeployment(_ context.Context, id string) (*stores.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (s *memStore) ListDeployments(context.Context, int, int) ([]*stores.Deployment, error) {
	return nil, nil
}

func (s *memStore) SetDeploymentStatus(_ context.Context, id string, status stores.DeploymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return stores.ErrNotFound
	}
	switch status {
	case stores.DeploymentStatusInProgress:
		if d.Status != stores.DeploymentStatusPending {
			return stores.ErrInvalidTransition
		}
	case stores.DeploymentStatusCompleted, stores.DeploymentStatusFailed:
		if d.Status != stores.DeploymentStatusInProgress {
			return stores.ErrInvalidTransition
		}
	}
	d.Status = status
	return nil
}

func (s *memStore) AppendDeploymentLog(_ context.Context, entry *stores.DeploymentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *memStore) GetDeploymentLogs(_ context.Context, deploymentID string) ([]*stores.DeploymentLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*stores.DeploymentLog
	for _, l := range s.logs {
		if l.DeploymentID == deploymentID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memStore) CreateRole(context.Context, *stores.Role) error { return nil }
func (s *memStore) GetRole(context.Context, string) (*stores.Role, error) {
	return nil, stores.ErrNotFound
}
func (s *memStore) ListRoles(context.Context, int, int) ([]*stores.Role, error) { return nil, nil }
func (s *memStore) CreatePermissionSet(context.Context, *stores.PermissionSet) error {
	return nil
}
func (s *memStore) GetPermissionSet(context.Context, string) (*stores.PermissionSet, error) {
	return nil, stores.ErrNotFound
}
func (s *memStore) ListPermissionSets(context.Context, int, int) ([]*stores.PermissionSet, error) {
	return nil, nil
}

func (s *memStore) GetAwsSettings(context.Context) (*stores.AwsSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settingsErr != nil {
		return nil, s.settingsErr
	}
	copied := *s.settings
	return &copied, nil
}

func (s *memStore) PutAwsSettings(_ context.Context, settings *stores.AwsSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

func (s *memStore) HealthCheck(context.Context) error { return nil }

// recordingProvisioner tracks concurrency and execution order.
type recordingProvisioner struct {
	mu            sync.Mutex
	order         []string
	active        int
	maxActive     int
	failures      map[string]error
	applyDuration time.Duration
}

func (p *recordingProvisioner) Apply(ctx context.Context, dep *stores.Deployment, _ *stores.AwsSettings) error {
	p.mu.Lock()
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.order = append(p.order, dep.ID)
	p.mu.Unlock()

	if p.applyDuration > 0 {
		time.Sleep(p.applyDuration)
	}

	p.mu.Lock()
	p.active--
	err := p.failures[dep.ID]
	p.mu.Unlock()
	return err
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses map[string][]stores.DeploymentStatus
	store    *memStore
}

func (n *recordingNotifier) PublishStatus(ctx context.Context, deploymentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.statuses == nil {
		n.statuses = make(map[string][]stores.DeploymentStatus)
	}
	n.statuses[deploymentID] = append(n.statuses[deploymentID], n.store.status(deploymentID))
}

func waitTerminal(t *testing.T, store *memStore, ids ...string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		done := true
		for _, id := range ids {
			if !store.status(id).IsTerminal() {
				done = false
			}
		}
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for deployments to finish")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQueueSerializesExecution(t *testing.T) {
	store := newMemStore()
	prov := &recordingProvisioner{applyDuration: 5 * time.Millisecond}
	q := NewQueue(store, nil, map[stores.ResourceType]Provisioner{
		stores.ResourceTypeRole: prov,
	}, testLogger(t), WithCooldown(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}

	ids := []string{"d1", "d2", "d3", "d4"}
	for _, id := range ids {
		store.addDeployment(id, stores.ResourceTypeRole)
		q.Enqueue(id)
	}

	waitTerminal(t, store, ids...)

	if prov.maxActive != 1 {
		t.Errorf("expected at most 1 deployment in flight, saw %d", prov.maxActive)
	}
	for i, id := range ids {
		if prov.order[i] != id {
			t.Errorf("expected FIFO order %v, got %v", ids, prov.order)
			break
		}
	}
}

func TestQueueFailureIsolation(t *testing.T) {
	store := newMemStore()
	prov := &recordingProvisioner{
		failures: map[string]error{
			"bad": NewPermanentError("access denied", errors.New("AccessDenied")),
		},
	}
	q := NewQueue(store, nil, map[stores.ResourceType]Provisioner{
		stores.ResourceTypeRole: prov,
	}, testLogger(t), WithCooldown(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"bad", "good"} {
		store.addDeployment(id, stores.ResourceTypeRole)
		q.Enqueue(id)
	}

	waitTerminal(t, store, "bad", "good")

	if got := store.status("bad"); got != stores.DeploymentStatusFailed {
		t.Errorf("expected failed, got %s", got)
	}
	if got := store.status("good"); got != stores.DeploymentStatusCompleted {
		t.Errorf("expected completed, got %s", got)
	}

	logs, _ := store.GetDeploymentLogs(context.Background(), "bad")
	if len(logs) != 1 || logs[0].Level != stores.LogLevelError {
		t.Fatalf("expected one error log for the failed deployment, got %v", logs)
	}
	var details map[string]string
	if err := json.Unmarshal([]byte(*logs[0].Details), &details); err != nil {
		t.Fatalf("details not valid JSON: %v", err)
	}
	if details["error_class"] != string(ErrorClassPermanent) {
		t.Errorf("expected permanent error class in details, got %q", details["error_class"])
	}
}

func TestQueueNotifiesTransitions(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{store: store}
	q := NewQueue(store, notifier, map[stores.ResourceType]Provisioner{
		stores.ResourceTypeRole: &recordingProvisioner{},
	}, testLogger(t), WithCooldown(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}

	store.addDeployment("d1", stores.ResourceTypeRole)
	q.Enqueue("d1")
	waitTerminal(t, store, "d1")

	notifier.mu.Lock()
	statuses := notifier.statuses["d1"]
	notifier.mu.Unlock()

	if len(statuses) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(statuses))
	}
	if statuses[0] != stores.DeploymentStatusInProgress {
		t.Errorf("first notification should be in_progress, got %s", statuses[0])
	}
	if statuses[1] != stores.DeploymentStatusCompleted {
		t.Errorf("second notification should be completed, got %s", statuses[1])
	}
}

func TestQueueUnknownResourceTypeFails(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, nil, map[stores.ResourceType]Provisioner{}, testLogger(t), WithCooldown(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}

	store.addDeployment("d1", stores.ResourceTypeRole)
	q.Enqueue("d1")
	waitTerminal(t, store, "d1")

	if got := store.status("d1"); got != stores.DeploymentStatusFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestQueueSettingsFailureFailsDeployment(t *testing.T) {
	store := newMemStore()
	store.settingsErr = stores.ErrSettingsMissing
	q := NewQueue(store, nil, map[stores.ResourceType]Provisioner{
		stores.ResourceTypeRole: &recordingProvisioner{},
	}, testLogger(t), WithCooldown(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}

	store.addDeployment("d1", stores.ResourceTypeRole)
	q.Enqueue("d1")
	waitTerminal(t, store, "d1")

	if got := store.status("d1"); got != stores.DeploymentStatusFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestQueueStartTwice(t *testing.T) {
	q := NewQueue(newMemStore(), nil, nil, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := q.Start(ctx); err == nil {
		t.Fatal("expected error starting the queue twice")
	}
}

func TestQueueStopsOnCancel(t *testing.T) {
	q := NewQueue(newMemStore(), nil, nil, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("queue did not stop after cancellation")
	}
}

func TestQueueLen(t *testing.T) {
	q := NewQueue(newMemStore(), nil, nil, testLogger(t))
	for i := 0; i < 3; i++ {
		q.Enqueue(fmt.Sprintf("d%d", i))
	}
	if got := q.Len(); got != 3 {
		t.Errorf("expected 3 pending, got %d", got)
	}
}
