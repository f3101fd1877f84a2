package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Store.Compression != "zstd" || !cfg.Store.WALMode {
		t.Fatalf("store defaults = %+v", cfg.Store)
	}
	if cfg.Store.Retention != 30*24*time.Hour {
		t.Fatalf("Retention = %v", cfg.Store.Retention)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"store without path", func(c *Config) { c.Store.Enabled = true; c.Store.Path = "" }, "store.path"},
		{"bad compression", func(c *Config) { c.Store.Enabled = true; c.Store.Compression = "lz4" }, "store.compression"},
		{"negative retention", func(c *Config) { c.Store.Enabled = true; c.Store.Retention = -time.Hour }, "store.retention"},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true; c.Archive.Region = "us-east-1" }, "archive.bucket"},
		{"archive without region", func(c *Config) { c.Archive.Enabled = true; c.Archive.Bucket = "b" }, "archive.region"},
		{"metrics without listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }, "metrics.listen"},
		{"negative timeout", func(c *Config) { c.Runner.Timeout = -time.Second }, "runner.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() passed an invalid config")
			}

			errs, ok := err.(ValidationErrors)
			if !ok {
				t.Fatalf("error type = %T, want ValidationErrors", err)
			}

			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("errors %v did not mention %s", errs, tt.field)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	doc := `
logging:
  level: debug
  format: json
store:
  enabled: true
  path: /tmp/conduit-test.db
  compression: gzip
  retention: 48h
runner:
  timeout: 30s
  node: worker-7
`
	path := filepath.Join(t.TempDir(), "conduit.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(LoadOptions{ConfigFile: path})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Store.Enabled || cfg.Store.Compression != "gzip" || cfg.Store.Retention != 48*time.Hour {
		t.Fatalf("Store = %+v", cfg.Store)
	}
	if cfg.Runner.Timeout != 30*time.Second || cfg.Runner.Node != "worker-7" {
		t.Fatalf("Runner = %+v", cfg.Runner)
	}

	// Unset keys fall back to defaults.
	if cfg.Store.BusyTimeout != DefaultBusyTimeout {
		t.Fatalf("BusyTimeout = %v, want default", cfg.Store.BusyTimeout)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	doc := `
logging:
  level: shouty
`
	path := filepath.Join(t.TempDir(), "conduit.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := Load(LoadOptions{ConfigFile: path}); err == nil {
		t.Fatal("Load() accepted an invalid config")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Fatalf("Level = %q, want default", cfg.Logging.Level)
	}
}
