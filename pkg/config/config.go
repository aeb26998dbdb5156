// Package config loads and validates the orchestrator's YAML configuration.
// Configuration is read once at startup; there is no runtime reload.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/grantline/grantline/pkg/orchestrator"
	"github.com/grantline/grantline/pkg/telemetry"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Database  DatabaseConfig    `yaml:"database"`
	Queue     QueueConfig       `yaml:"queue"`
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// ListenAddress is the address the API server binds to.
	ListenAddress string `yaml:"listen_address" validate:"required"`

	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`

	// RateLimit is the sustained request rate allowed per second. Zero
	// disables rate limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`

	// RateBurst is the burst size for the rate limiter.
	RateBurst int `yaml:"rate_burst" validate:"min=0"`
}

// DatabaseConfig configures the SQLite record store.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" validate:"required"`
}

// QueueConfig configures the deployment queue and retry behavior.
type QueueConfig struct {
	// Cooldown is the pause between consecutive deployments.
	Cooldown time.Duration `yaml:"cooldown" validate:"min=0"`

	// MaxRetries is the number of retries after the initial attempt of a
	// throttled cloud call.
	MaxRetries int `yaml:"max_retries" validate:"min=0"`

	// InitialDelay is the first retry delay.
	InitialDelay time.Duration `yaml:"initial_delay" validate:"min=0"`

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `yaml:"max_delay" validate:"min=0"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		Database: DatabaseConfig{
			Path: "grantline.db",
		},
		Queue: QueueConfig{
			Cooldown:     2 * time.Second,
			MaxRetries:   5,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads the YAML file at path, layered over the defaults, and validates
// the result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural constraints and the embedded telemetry section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Queue.InitialDelay > c.Queue.MaxDelay {
		return fmt.Errorf("queue initial_delay (%s) exceeds max_delay (%s)", c.Queue.InitialDelay, c.Queue.MaxDelay)
	}

	if c.Telemetry == nil {
		c.Telemetry = telemetry.DefaultConfig()
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	return nil
}

// RetryPolicy converts the queue section into a retry policy.
func (c *QueueConfig) RetryPolicy() orchestrator.RetryPolicy {
	return orchestrator.RetryPolicy{
		MaxRetries:   c.MaxRetries,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
	}
}
