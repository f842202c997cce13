// Package config provides centralized configuration management for the
// importer. It loads settings from environment variables with sensible
// defaults and validates everything on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all tapeload configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database DatabaseConfig
	Semantic SemanticConfig
	Import   ImportConfig
	Logging  LoggingConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// SemanticConfig holds settings for the semantic column-mapping call.
type SemanticConfig struct {
	// APIKey is the Anthropic API key. Semantic mapping is disabled
	// when empty; imports then rely on exact matches and saved configs.
	APIKey string `env:"ANTHROPIC_API_KEY"`

	// Model is the model asked for mapping proposals (default: claude-3-5-haiku-latest)
	Model string `env:"TAPELOAD_SEMANTIC_MODEL" default:"claude-3-5-haiku-latest"`

	// Timeout bounds one proposal call including retries (default: 30s)
	Timeout time.Duration `env:"TAPELOAD_SEMANTIC_TIMEOUT" default:"30s"`

	// Retries is the number of extra proposal attempts after a rejected
	// one (default: 2)
	Retries int `env:"TAPELOAD_SEMANTIC_RETRIES" default:"2"`
}

// ImportConfig holds tape processing settings.
type ImportConfig struct {
	// BatchSize is the number of rows written per transaction (default: 500)
	BatchSize int `env:"TAPELOAD_BATCH_SIZE" default:"500"`

	// ErrorSampleLimit bounds row errors kept for reporting (default: 20)
	ErrorSampleLimit int `env:"TAPELOAD_ERROR_SAMPLE_LIMIT" default:"20"`

	// PreviewLimit is the number of records shown by dry runs (default: 10)
	PreviewLimit int `env:"TAPELOAD_PREVIEW_LIMIT" default:"10"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"TAPELOAD_LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"TAPELOAD_LOG_FORMAT" default:"text"`
}

// Enabled reports whether semantic mapping can be used at all.
func (c *SemanticConfig) Enabled() bool {
	return c.APIKey != ""
}
