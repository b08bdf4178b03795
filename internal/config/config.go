// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	APICache APICacheConfig `yaml:"api_cache"`
}

// ServerConfig contains HTTP server settings for cmd/server.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig points at the shared rate-limit store. An empty Addr selects
// the in-process store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig selects the cache repository backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres or sqlite
	DSN    string `yaml:"dsn"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APICacheConfig holds the per-client configuration map, keyed by client name.
type APICacheConfig struct {
	APIs map[string]ClientConfig `yaml:"apis"`
}

// ClientConfig is the recognized configuration of one upstream client.
type ClientConfig struct {
	BaseURL  string `yaml:"base_url"`
	Version  string `yaml:"version"`
	APIKey   string `yaml:"api_key"`
	Login    string `yaml:"login"`
	Password string `yaml:"password"`

	// RateLimitMaxAttempts of nil means unlimited.
	RateLimitMaxAttempts  *int `yaml:"rate_limit_max_attempts"`
	RateLimitDecaySeconds int  `yaml:"rate_limit_decay_seconds"`

	CompressionEnabled bool `yaml:"compression_enabled"`

	// CacheTTLSeconds of nil means entries never expire.
	CacheTTLSeconds *int `yaml:"cache_ttl"`

	PostbackURL string `yaml:"postback_url"`
	PingbackURL string `yaml:"pingback_url"`

	// WebhookEndpoint is recorded on webhook deliveries that do not name an
	// endpoint themselves, so reconciled rows match a processor's patterns.
	WebhookEndpoint string `yaml:"webhook_endpoint"`

	Timeout time.Duration `yaml:"timeout"`
}

// CacheTTL returns the configured TTL as a duration, nil when unset.
func (c ClientConfig) CacheTTL() *time.Duration {
	if c.CacheTTLSeconds == nil {
		return nil
	}
	d := time.Duration(*c.CacheTTLSeconds) * time.Second
	return &d
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:apicache.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		APICache: APICacheConfig{
			APIs: map[string]ClientConfig{},
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	for name, api := range c.APICache.APIs {
		if api.BaseURL == "" {
			return fmt.Errorf("api %q: base_url is required", name)
		}
		if api.RateLimitMaxAttempts != nil && *api.RateLimitMaxAttempts <= 0 {
			return fmt.Errorf("api %q: rate_limit_max_attempts must be positive", name)
		}
		if api.RateLimitDecaySeconds < 0 {
			return fmt.Errorf("api %q: rate_limit_decay_seconds cannot be negative", name)
		}
		if api.CacheTTLSeconds != nil && *api.CacheTTLSeconds <= 0 {
			return fmt.Errorf("api %q: cache_ttl must be positive", name)
		}
		if api.Timeout < 0 {
			return fmt.Errorf("api %q: timeout cannot be negative", name)
		}
	}

	return nil
}
