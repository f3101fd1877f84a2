package config

import "time"

// Default configuration values.
const (
	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Store defaults.
	DefaultStorePath   = "conduit.db"
	DefaultCompression = "zstd"
	DefaultRetention   = 30 * 24 * time.Hour
	DefaultBusyTimeout = 5 * time.Second

	// Metrics defaults.
	DefaultMetricsListen = ":9091"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Store: StoreConfig{
			Enabled:     false,
			Path:        DefaultStorePath,
			Compression: DefaultCompression,
			Retention:   DefaultRetention,
			BusyTimeout: DefaultBusyTimeout,
			WALMode:     true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  DefaultMetricsListen,
		},
	}
}
