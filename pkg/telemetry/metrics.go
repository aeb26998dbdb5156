package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the deployment orchestrator.
// All record methods are safe to call on a disabled instance.
type Metrics struct {
	config MetricsConfig

	// Deployment metrics
	deploymentsStarted   prometheus.Counter
	deploymentsCompleted *prometheus.CounterVec
	deploymentDuration   *prometheus.HistogramVec

	// Cloud call metrics
	cloudCallRetries *prometheus.CounterVec

	// Notifier metrics
	notifierPublishes prometheus.Counter
	notifierFailures  prometheus.Counter

	// Queue metrics
	queueDepth prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deploymentsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_started_total",
				Help:      "Total number of deployments dequeued for execution",
			},
		),
		deploymentsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_completed_total",
				Help:      "Total number of deployments reaching a terminal status",
			},
			[]string{"status", "resource_type"},
		),
		deploymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Duration of deployment execution in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status", "resource_type"},
		),
		cloudCallRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cloud_call_retries_total",
				Help:      "Total number of throttled cloud calls retried",
			},
			[]string{"operation"},
		),
		notifierPublishes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifier_publishes_total",
				Help:      "Total number of status notifications published",
			},
		),
		notifierFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifier_publish_failures_total",
				Help:      "Total number of status notification publish failures",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of deployments waiting in the queue",
			},
		),
	}

	registry.MustRegister(
		m.deploymentsStarted,
		m.deploymentsCompleted,
		m.deploymentDuration,
		m.cloudCallRetries,
		m.notifierPublishes,
		m.notifierFailures,
		m.queueDepth,
	)

	return m, nil
}

// Serve starts the metrics HTTP endpoint. It returns immediately; the
// listener runs until Shutdown.
func (m *Metrics) Serve() error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = m.server.ListenAndServe()
	}()

	return nil
}

// Shutdown stops the metrics endpoint.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// RecordDeploymentStarted increments the started counter.
func (m *Metrics) RecordDeploymentStarted() {
	if m == nil || m.deploymentsStarted == nil {
		return
	}
	m.deploymentsStarted.Inc()
}

// RecordDeploymentCompleted records a terminal deployment outcome.
func (m *Metrics) RecordDeploymentCompleted(status, resourceType string, duration time.Duration) {
	if m == nil || m.deploymentsCompleted == nil {
		return
	}
	m.deploymentsCompleted.WithLabelValues(status, resourceType).Inc()
	m.deploymentDuration.WithLabelValues(status, resourceType).Observe(duration.Seconds())
}

// RecordRetry records one throttled retry of a cloud call.
func (m *Metrics) RecordRetry(operation string) {
	if m == nil || m.cloudCallRetries == nil {
		return
	}
	m.cloudCallRetries.WithLabelValues(operation).Inc()
}

// RecordNotifierPublish records a successful status notification.
func (m *Metrics) RecordNotifierPublish() {
	if m == nil || m.notifierPublishes == nil {
		return
	}
	m.notifierPublishes.Inc()
}

// RecordNotifierFailure records a failed status notification.
func (m *Metrics) RecordNotifierFailure() {
	if m == nil || m.notifierFailures == nil {
		return
	}
	m.notifierFailures.Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Registry exposes the underlying registry, primarily for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
