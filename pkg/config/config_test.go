package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddress != ":8080" {
		t.Errorf("unexpected listen address %q", cfg.Server.ListenAddress)
	}
	if cfg.Queue.Cooldown != 2*time.Second {
		t.Errorf("unexpected cooldown %s", cfg.Queue.Cooldown)
	}
	if cfg.Queue.MaxRetries != 5 || cfg.Queue.InitialDelay != time.Second || cfg.Queue.MaxDelay != 30*time.Second {
		t.Errorf("unexpected retry defaults %+v", cfg.Queue)
	}
	if cfg.Telemetry == nil || cfg.Telemetry.ServiceName != "grantline" {
		t.Error("telemetry defaults missing")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: ":9000"
database:
  path: /var/lib/grantline/state.db
queue:
  cooldown: 5s
  max_retries: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddress != ":9000" {
		t.Errorf("override not applied: %q", cfg.Server.ListenAddress)
	}
	if cfg.Database.Path != "/var/lib/grantline/state.db" {
		t.Errorf("override not applied: %q", cfg.Database.Path)
	}
	if cfg.Queue.Cooldown != 5*time.Second || cfg.Queue.MaxRetries != 3 {
		t.Errorf("queue overrides not applied: %+v", cfg.Queue)
	}
	// Untouched sections keep their defaults.
	if cfg.Queue.MaxDelay != 30*time.Second {
		t.Errorf("default lost: %s", cfg.Queue.MaxDelay)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsInvertedDelays(t *testing.T) {
	path := writeConfig(t, `
queue:
  initial_delay: 60s
  max_delay: 30s
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when initial_delay exceeds max_delay")
	}
}

func TestValidateRejectsEmptyListenAddress(t *testing.T) {
	cfg := Default()
	cfg.Server.ListenAddress = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty listen address")
	}
}

func TestRetryPolicyConversion(t *testing.T) {
	cfg := Default()
	policy := cfg.Queue.RetryPolicy()
	if policy.MaxRetries != 5 || policy.InitialDelay != time.Second || policy.MaxDelay != 30*time.Second {
		t.Errorf("unexpected policy %+v", policy)
	}
}
