package telemetry

import (
	"testing"
	"time"
)

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}

	// None of these may panic on a disabled instance.
	m.RecordDeploymentStarted()
	m.RecordDeploymentCompleted("completed", "role", time.Second)
	m.RecordRetry("iam.CreateRole")
	m.RecordNotifierPublish()
	m.RecordNotifierFailure()
	m.SetQueueDepth(3)

	var nilMetrics *Metrics
	nilMetrics.RecordDeploymentStarted()
	nilMetrics.SetQueueDepth(1)
}

func TestEnabledMetricsRegister(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatal(err)
	}

	m.RecordDeploymentStarted()
	m.RecordDeploymentCompleted("completed", "role", 2*time.Second)
	m.RecordRetry("sts.AssumeRole")
	m.SetQueueDepth(2)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"test_deployments_started_total",
		"test_deployments_completed_total",
		"test_deployment_duration_seconds",
		"test_cloud_call_retries_total",
		"test_queue_depth",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}
