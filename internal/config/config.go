// Package config provides configuration management for Conduit.
package config

import (
	"time"
)

// Config is the root configuration structure for Conduit.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Runner  RunnerConfig  `mapstructure:"runner"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format: console or json
	Format string `mapstructure:"format"`

	// Include caller information
	Caller bool `mapstructure:"caller"`
}

// StoreConfig holds the local manifest store settings.
type StoreConfig struct {
	// Enable manifest persistence
	Enabled bool `mapstructure:"enabled"`

	// SQLite database path
	Path string `mapstructure:"path"`

	// Compression for stored manifest payloads: zstd, gzip, or none
	Compression string `mapstructure:"compression"`

	// How long to keep sealed manifests
	Retention time.Duration `mapstructure:"retention"`

	// SQLite busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable WAL journaling
	WALMode bool `mapstructure:"wal_mode"`
}

// ArchiveConfig holds the S3 long-term manifest archive settings.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores
	Endpoint string `mapstructure:"endpoint"`

	// Prefix is prepended to archived object keys
	Prefix string `mapstructure:"prefix"`

	ForcePathStyle bool `mapstructure:"force_path_style"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Listen address for the /metrics endpoint, e.g. ":9091"
	Listen string `mapstructure:"listen"`
}

// RunnerConfig holds pipeline runner settings.
type RunnerConfig struct {
	// Per-execution timeout, checked at hook boundaries; zero disables
	Timeout time.Duration `mapstructure:"timeout"`

	// Node identity stamped into manifests; defaults to the hostname
	Node string `mapstructure:"node"`
}
