package orchestrator

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds the exponential backoff applied to throttled cloud calls.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy applied to every cloud call.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// jitterMin and jitterMax bound the uniform jitter factor applied to each
// backoff delay.
const (
	jitterMin = 0.85
	jitterMax = 1.15
)

// Executor retries a single remote call on throttling errors with bounded
// exponential backoff. It wraps individual cloud API calls, never whole
// deployments, so a deployment with ten policy attachments retries each
// attachment independently.
type Executor struct {
	policy RetryPolicy

	// OnRetry is invoked before each backoff wait, for metrics and logging.
	OnRetry func(operation string, attempt int, delay time.Duration)

	// sleep and jitter are injectable for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewExecutor creates a retry executor with the given policy.
func NewExecutor(policy RetryPolicy) *Executor {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = DefaultRetryPolicy().MaxRetries
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultRetryPolicy().InitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultRetryPolicy().MaxDelay
	}

	return &Executor{
		policy: policy,
		sleep:  sleepContext,
		jitter: func() float64 {
			return jitterMin + rand.Float64()*(jitterMax-jitterMin)
		},
	}
}

// Do invokes fn, retrying on throttled errors until the policy is exhausted.
// Non-retryable errors propagate immediately with zero additional attempts;
// after MaxRetries retryable failures the last error propagates unchanged.
func (e *Executor) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	delay := e.policy.InitialDelay

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !IsRetryable(err) || attempt >= e.policy.MaxRetries {
			return err
		}

		wait := time.Duration(float64(delay) * e.jitter())
		if wait > e.policy.MaxDelay {
			wait = e.policy.MaxDelay
		}

		if e.OnRetry != nil {
			e.OnRetry(operation, attempt+1, wait)
		}

		if err := e.sleep(ctx, wait); err != nil {
			return err
		}

		delay *= 2
		if delay > e.policy.MaxDelay {
			delay = e.policy.MaxDelay
		}
	}
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
