package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration.
// Values are merged in layers, later layers winning:
// Layer 1: built-in defaults (defaults.go)
// Layer 2: user config file (~/.config/spacefeed/config.yaml or --config)
// Layer 3: environment variables and runtime overrides
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	NASA    NASAConfig    `mapstructure:"nasa"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`

	Sources map[string]SourceConfig `mapstructure:"sources"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration.
// Driver is libsql (local file or Turso) or postgres.
type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	Path          string `mapstructure:"path"`
	URL           string `mapstructure:"url"`
	AuthToken     string `mapstructure:"auth_token"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// RedisConfig enables the latest-snapshot cache when URL is set.
type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// FetchConfig tunes the shared outbound client.
type FetchConfig struct {
	UserAgent    string          `mapstructure:"user_agent"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
	Retry        RetryConfig     `mapstructure:"retry"`
	MaxBodyBytes int64           `mapstructure:"max_body_bytes"`
	RunOnStart   bool            `mapstructure:"run_on_start"`
}

// RateLimitConfig is the fixed-window permit budget shared by every source.
type RateLimitConfig struct {
	Capacity int           `mapstructure:"capacity"`
	Window   time.Duration `mapstructure:"window"`
}

// RetryConfig bounds retries per logical request.
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// NASAConfig holds the api.nasa.gov key. Empty means the key is omitted.
type NASAConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// APIConfig throttles manual refresh endpoints per client address.
type APIConfig struct {
	RefreshRPS   float64 `mapstructure:"refresh_rps"`
	RefreshBurst int     `mapstructure:"refresh_burst"`
}

// SourceConfig overrides one upstream's defaults. Zero URL, Interval and
// Timeout keep the built-in values for that source.
type SourceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles per Fulmen Forge Workhorse Standard:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
// - ENTERPRISE: Multiple sinks, middleware, throttling, policy enforcement (production)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// Source returns the settings for name, zero valued when absent.
func (c *Config) Source(name string) SourceConfig {
	if c == nil || c.Sources == nil {
		return SourceConfig{}
	}
	return c.Sources[strings.ToLower(name)]
}

// Validate rejects settings the fetch engine cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Fetch.RateLimit.Capacity <= 0 {
		return fmt.Errorf("fetch.rate_limit.capacity must be positive")
	}
	if c.Fetch.RateLimit.Window <= 0 {
		return fmt.Errorf("fetch.rate_limit.window must be positive")
	}
	if c.Fetch.Retry.MaxRetries < 0 {
		return fmt.Errorf("fetch.retry.max_retries must not be negative")
	}
	if c.Store.RetentionDays < 0 {
		return fmt.Errorf("store.retention_days must not be negative")
	}
	for name, src := range c.Sources {
		if src.Interval < 0 {
			return fmt.Errorf("sources.%s.interval must not be negative", name)
		}
		if src.Timeout < 0 {
			return fmt.Errorf("sources.%s.timeout must not be negative", name)
		}
	}
	return nil
}
