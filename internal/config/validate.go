package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{Field: "logging.level", Message: "must be debug, info, warn, or error"})
	}

	switch cfg.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, ValidationError{Field: "logging.format", Message: "must be console or json"})
	}

	if cfg.Store.Enabled {
		if cfg.Store.Path == "" {
			errs = append(errs, ValidationError{Field: "store.path", Message: "required when store is enabled"})
		}
		switch cfg.Store.Compression {
		case "", "none", "gzip", "zstd":
		default:
			errs = append(errs, ValidationError{Field: "store.compression", Message: "must be none, gzip, or zstd"})
		}
		if cfg.Store.Retention < 0 {
			errs = append(errs, ValidationError{Field: "store.retention", Message: "must not be negative"})
		}
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.Bucket == "" {
			errs = append(errs, ValidationError{Field: "archive.bucket", Message: "required when archive is enabled"})
		}
		if cfg.Archive.Region == "" {
			errs = append(errs, ValidationError{Field: "archive.region", Message: "required when archive is enabled"})
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, ValidationError{Field: "metrics.listen", Message: "required when metrics are enabled"})
	}

	if cfg.Runner.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "runner.timeout", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
