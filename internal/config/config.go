package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, the XDG config file, then
// TABLEWRIGHT_* environment variables and flags.
type Config struct {
	API         APIConfig         `mapstructure:"api"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Batch       BatchConfig       `mapstructure:"batch"`
	SchemaCache SchemaCacheConfig `mapstructure:"schema_cache"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Health      HealthConfig      `mapstructure:"health"`
}

// APIConfig contains the records service endpoint and credentials
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// RateLimitConfig sizes the per-base token buckets
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// BatchConfig contains bulk operation defaults
type BatchConfig struct {
	ChunkSize int      `mapstructure:"chunk_size"`
	Typecast  bool     `mapstructure:"typecast"`
	MergeOn   []string `mapstructure:"merge_on"`
}

// SchemaCacheConfig contains schema cache settings
type SchemaCacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// JournalConfig controls the batch run journal
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Retention bounds how long runs are kept; zero keeps everything.
	Retention time.Duration `mapstructure:"retention"`
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

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects SIMPLE (CLI) or STRUCTURED (server) output
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
