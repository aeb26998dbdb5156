package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/grantline/grantline/pkg/stores"
	"github.com/grantline/grantline/pkg/telemetry"
)

// DefaultCooldown is the fixed pause between jobs, damping burstiness beyond
// the per-call backoff.
const DefaultCooldown = 2 * time.Second

// Provisioner executes one deployment's lifecycle action against its target
// account.
type Provisioner interface {
	Apply(ctx context.Context, dep *stores.Deployment, settings *stores.AwsSettings) error
}

// Notifier publishes deployment status transitions. Implementations must
// never fail the deployment; publishing is observability, not correctness.
type Notifier interface {
	PublishStatus(ctx context.Context, deploymentID string)
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithCooldown overrides the pause between jobs.
func WithCooldown(d time.Duration) QueueOption {
	return func(q *Queue) { q.cooldown = d }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *telemetry.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// WithTracer attaches a tracer.
func WithTracer(t *telemetry.Tracer) QueueOption {
	return func(q *Queue) { q.tracer = t }
}

// Queue serializes all deployment execution process-wide: a single consuming
// goroutine drains an in-memory FIFO of deployment IDs, driving each
// deployment to a terminal status before starting the next. The pending list
// is the only mutable shared state and is owned by this type; everything else
// communicates by ID through the store.
type Queue struct {
	store        stores.Store
	notifier     Notifier
	provisioners map[stores.ResourceType]Provisioner
	cooldown     time.Duration
	log          *telemetry.Logger
	metrics      *telemetry.Metrics
	tracer       *telemetry.Tracer

	mu      sync.Mutex
	pending []string
	started bool

	wake chan struct{}
	done chan struct{}
}

// NewQueue creates a deployment queue. The queue does not run until Start.
func NewQueue(store stores.Store, notifier Notifier, provisioners map[stores.ResourceType]Provisioner, log *telemetry.Logger, opts ...QueueOption) *Queue {
	q := &Queue{
		store:        store,
		notifier:     notifier,
		provisioners: provisioners,
		cooldown:     DefaultCooldown,
		log:          log.NewComponentLogger("queue"),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Start launches the single worker goroutine. The loop runs until ctx is
// cancelled; cancellation takes effect between jobs, never mid-deployment.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return fmt.Errorf("queue already started")
	}
	q.started = true
	q.mu.Unlock()

	go q.run(ctx)
	return nil
}

// Enqueue appends a deployment ID to the pending list and wakes the worker.
// Enqueueing is fire-and-forget: failure is observable only through the
// deployment's status, log trail, and notifications. No deduplication is
// performed; enqueueing the same ID twice runs it twice.
func (q *Queue) Enqueue(deploymentID string) {
	q.mu.Lock()
	q.pending = append(q.pending, deploymentID)
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of deployments waiting (not counting one in flight).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Done is closed when the worker loop has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// run is the single worker loop. Exactly one job is in flight at all times;
// a failing job never blocks subsequent jobs.
func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		id, ok := q.pop()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		q.process(ctx, id)

		if q.cooldown > 0 {
			select {
			case <-time.After(q.cooldown):
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// pop removes and returns the head of the pending list.
func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return "", false
	}

	id := q.pending[0]
	q.pending = q.pending[1:]
	q.metrics.SetQueueDepth(len(q.pending))
	return id, true
}

// process drives one deployment to a terminal status. Any error thrown by
// the provisioner is converted here, and only here, into a FAILED status plus
// a top-level ERROR log entry.
func (q *Queue) process(ctx context.Context, id string) {
	log := q.log.WithDeploymentID(id)

	dep, err := q.store.GetDeployment(ctx, id)
	if err != nil {
		log.WithError(err).Error("failed to load deployment, skipping")
		return
	}

	if err := q.store.SetDeploymentStatus(ctx, id, stores.DeploymentStatusInProgress); err != nil {
		log.WithError(err).Error("failed to mark deployment in progress, skipping")
		return
	}

	q.metrics.RecordDeploymentStarted()
	q.notify(ctx, id)

	log.WithAccount(dep.TargetAccount).
		WithResource(string(dep.ResourceType), dep.ResourceID).
		Infof("deployment started: %s", dep.Action)

	started := time.Now()
	execErr := q.execute(ctx, dep)

	status := stores.DeploymentStatusCompleted
	if execErr != nil {
		status = stores.DeploymentStatusFailed
		q.appendFailureLog(ctx, id, execErr)
		log.WithError(execErr).Error("deployment failed")
	} else {
		log.Info("deployment completed")
	}

	if err := q.store.SetDeploymentStatus(ctx, id, status); err != nil {
		log.WithError(err).Error("failed to persist terminal deployment status")
	}

	q.metrics.RecordDeploymentCompleted(string(status), string(dep.ResourceType), time.Since(started))
	q.notify(ctx, id)
}

// execute loads the global settings and dispatches to the provisioner for
// the deployment's resource type.
func (q *Queue) execute(ctx context.Context, dep *stores.Deployment) (err error) {
	if q.tracer != nil {
		spanCtx, span := q.tracer.StartDeploymentSpan(ctx, dep.ID, dep.TargetAccount, string(dep.ResourceType), string(dep.Action))
		ctx = spanCtx
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	settings, err := q.store.GetAwsSettings(ctx)
	if err != nil {
		return NewPermanentError("failed to load aws settings", err)
	}

	prov, ok := q.provisioners[dep.ResourceType]
	if !ok {
		return NewPermanentError(fmt.Sprintf("no provisioner for resource type %q", dep.ResourceType), nil).
			WithCode(ErrCodeValidation)
	}

	return prov.Apply(ctx, dep, settings)
}

// appendFailureLog writes the top-level ERROR entry for a failed deployment.
func (q *Queue) appendFailureLog(ctx context.Context, id string, execErr error) {
	details, _ := json.Marshal(map[string]interface{}{
		"error":       execErr.Error(),
		"error_class": string(ErrorClassOf(execErr)),
	})
	d := string(details)

	entry := &stores.DeploymentLog{
		DeploymentID: id,
		Level:        stores.LogLevelError,
		Message:      "deployment failed",
		Details:      &d,
	}

	if err := q.store.AppendDeploymentLog(ctx, entry); err != nil {
		q.log.WithDeploymentID(id).WithError(err).Error("failed to append failure log entry")
	}
}

// notify publishes the current status. The notifier is best-effort and never
// fails the deployment; absence of a notifier is a no-op.
func (q *Queue) notify(ctx context.Context, id string) {
	if q.notifier == nil {
		return
	}
	q.notifier.PublishStatus(ctx, id)
}
