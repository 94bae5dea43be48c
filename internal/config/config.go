// Package config provides configuration types for egg.
package config

import (
	"runtime"
	"time"
)

// Config is the top-level configuration for an egg cluster.
type Config struct {
	// Server configures the shared listener and the worker HTTP servers.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Metrics configures the optional Prometheus endpoint mounted by workers.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// DevMode enables development features (debug logging, single worker).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the listener shared by all workers and the
// per-connection policies each worker applies.
type ServerConfig struct {
	// Host is the interface to bind. Empty means all interfaces.
	// When set, connections to any other local address are refused at the
	// transport layer.
	Host string `yaml:"host" mapstructure:"host" validate:"omitempty,ip|hostname"`

	// Port is the TCP port to listen on. Defaults to 7001; an ephemeral
	// port is only picked when set to 0 programmatically after defaults.
	Port int `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`

	// Workers is the number of worker processes to spawn.
	// Defaults to the number of CPUs.
	Workers int `yaml:"workers" mapstructure:"workers" validate:"omitempty,gte=1"`

	// RequestTimeout is the per-request deadline enforced by each worker
	// (e.g. "30s"). A request not completed in time has its connection
	// aborted. Defaults to "30s".
	RequestTimeout string `yaml:"request_timeout" mapstructure:"request_timeout" validate:"omitempty"`

	// ShutdownTimeout bounds the graceful drain on shutdown (e.g. "10s").
	// Workers still running after it are force-killed. Defaults to "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty"`

	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info". DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ReusePort makes standalone workers bind with SO_REUSEPORT instead of
	// inheriting the master's listener. Unix only; ignored elsewhere.
	ReusePort bool `yaml:"reuse_port" mapstructure:"reuse_port"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled mounts /metrics and /health on each worker beside the
	// application handler.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path is the metrics route. Default: "/metrics".
	Path string `yaml:"path" mapstructure:"path" validate:"omitempty,startswith=/"`
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 7001
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = runtime.NumCPU()
	}
	if c.Server.RequestTimeout == "" {
		c.Server.RequestTimeout = "30s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// SetDevDefaults applies permissive defaults for development mode.
// A single worker keeps logs readable and debuggers attachable.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.Workers = 1
	c.Server.LogLevel = "debug"
}

// RequestTimeoutDuration returns the parsed request timeout.
// Falls back to 30s when the value does not parse; Validate rejects the
// malformed value earlier in normal startup.
func (c *Config) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Server.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ShutdownTimeoutDuration returns the parsed shutdown drain timeout.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
