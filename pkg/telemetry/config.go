// Package telemetry reports frame timings as structured logs and as GCP
// Cloud Monitoring time series.
package telemetry

import (
	"os"
	"strconv"
	"time"
)

// DefaultFrameBudget is the time one phase may take at 60Hz.
const DefaultFrameBudget = 16667 * time.Microsecond

// Config holds telemetry configuration.
type Config struct {
	// Enabled controls whether metrics are sent to Cloud Monitoring
	Enabled bool

	// ProjectID is the GCP project for Cloud Monitoring
	ProjectID string

	// MetricPrefix is prepended to all custom metric names
	// Default: "custom.googleapis.com/frame_timings"
	MetricPrefix string

	// Component identifies the source component (e.g., "frame-pipeline")
	Component string

	// Environment is the deployment environment (e.g., "dev", "prod")
	Environment string

	// FrameBudget is the build or raster duration above which a frame is jank
	FrameBudget time.Duration

	// FlushInterval is how often to flush buffered metrics
	FlushInterval time.Duration

	// BufferSize is the max number of time series to buffer before forcing a flush
	BufferSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MetricPrefix:  "custom.googleapis.com/frame_timings",
		FrameBudget:   DefaultFrameBudget,
		FlushInterval: 10 * time.Second,
		BufferSize:    100,
	}
}

// ConfigFromEnv loads configuration from environment variables.
// Environment variables:
//   - TELEMETRY_ENABLED: "true" or "false" (default: true)
//   - GCP_PROJECT_ID: GCP project ID (required when enabled)
//   - TELEMETRY_METRIC_PREFIX: Custom metric prefix
//   - TELEMETRY_COMPONENT: Component name
//   - TELEMETRY_ENVIRONMENT: Environment name
//   - FRAME_BUDGET: Jank threshold (e.g., "16ms")
//   - TELEMETRY_FLUSH_INTERVAL: Flush interval (e.g., "10s")
//   - TELEMETRY_BUFFER_SIZE: Buffer size (e.g., "100")
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("TELEMETRY_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}

	if v := os.Getenv("TELEMETRY_METRIC_PREFIX"); v != "" {
		cfg.MetricPrefix = v
	}

	if v := os.Getenv("TELEMETRY_COMPONENT"); v != "" {
		cfg.Component = v
	}

	if v := os.Getenv("TELEMETRY_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}

	if v := os.Getenv("FRAME_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.FrameBudget = d
		}
	}

	if v := os.Getenv("TELEMETRY_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FlushInterval = d
		}
	}

	if v := os.Getenv("TELEMETRY_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BufferSize = n
		}
	}

	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.FrameBudget <= 0 {
		return &ConfigError{Field: "FrameBudget", Message: "must be positive"}
	}
	if !c.Enabled {
		return nil
	}
	if c.ProjectID == "" {
		return &ConfigError{Field: "ProjectID", Message: "required when telemetry is enabled"}
	}
	if c.Component == "" {
		return &ConfigError{Field: "Component", Message: "required when telemetry is enabled"}
	}
	if c.FlushInterval <= 0 {
		return &ConfigError{Field: "FlushInterval", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "telemetry config: " + e.Field + ": " + e.Message
}
