package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// ConfigError is returned when a benchmark cannot start because of invalid
// configuration. It is the only error that fails a run before workers start.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a ConfigError.
func NewConfigError(err error) *ConfigError {
	return &ConfigError{Err: err}
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Validate validates the benchmark configuration.
//
// Returns nil if valid, or a *ConfigError wrapping ValidationErrors with every
// problem found.
func (c *BenchmarkConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.MeasurementName == "" {
		errs.Add("measurementName", "measurement name is required")
	} else if strings.ContainsAny(c.MeasurementName, "\n\r") {
		errs.Add("measurementName", "measurement name must not contain line breaks")
	}
	if c.WorkerCount < 1 {
		errs.Add("threadsCount", fmt.Sprintf("must be >= 1, got %d", c.WorkerCount))
	}
	if c.DurationSeconds < 1 {
		errs.Add("secondsCount", fmt.Sprintf("must be >= 1, got %d", c.DurationSeconds))
	}
	if c.BatchSize < 1 {
		errs.Add("lineProtocolsCount", fmt.Sprintf("must be >= 1, got %d", c.BatchSize))
	}
	if c.Tick < 0 {
		errs.Add("tick", "must not be negative")
	}
	if c.JoinTimeout < 0 {
		errs.Add("joinTimeout", "must not be negative")
	}
	if c.Settle < 0 {
		errs.Add("settle", "must not be negative")
	}

	validateSink(&c.Sink, errs)

	if errs.HasErrors() {
		return NewConfigError(errs)
	}
	return nil
}

// validateSink validates the backend connection parameters.
func validateSink(s *SinkConfig, errs *ValidationErrors) {
	if s.Type == "" {
		errs.Add("sink.type", "sink type is required")
		return
	}
	if !IsValidSinkType(s.Type) {
		errs.Add("sink.type", fmt.Sprintf("unknown sink type: %s", s.Type))
		return
	}

	if s.BatchSize < 0 {
		errs.Add("sink.batchSize", "must not be negative")
	}
	if s.FlushInterval < 0 {
		errs.Add("sink.flushInterval", "must not be negative")
	}
	if s.Timeout < 0 {
		errs.Add("sink.timeout", "must not be negative")
	}
	switch s.Compression {
	case CompressionNone, CompressionGzip, CompressionZstd:
	default:
		errs.Add("sink.compression", fmt.Sprintf("unsupported compression: %s", s.Compression))
	}

	switch s.Type {
	case SinkClientV1, SinkClientV1Optimized, SinkHTTPV1:
		validateURL(s.URL, errs)
		if s.Database == "" {
			errs.Add("sink.database", "database is required for InfluxDB 1.x sinks")
		}
	case SinkClientV2, SinkClientV2Optimized, SinkHTTPV2:
		validateURL(s.URL, errs)
		if s.Org == "" {
			errs.Add("sink.org", "org is required for InfluxDB 2.x sinks")
		}
		if s.Bucket == "" {
			errs.Add("sink.bucket", "bucket is required for InfluxDB 2.x sinks")
		}
	case SinkTimescale:
		if s.DSN == "" {
			errs.Add("sink.dsn", "dsn is required for the TIMESCALE sink")
		}
		if s.Table == "" {
			errs.Add("sink.table", "table is required for the TIMESCALE sink")
		} else if !isIdentifier(s.Table) {
			errs.Add("sink.table", fmt.Sprintf("invalid table name: %s", s.Table))
		}
	}
}

func validateURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add("sink.url", "url is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("sink.url", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("sink.url", fmt.Sprintf("URL must use http or https scheme, got %q", u.Scheme))
	}
	if u.Host == "" {
		errs.Add("sink.url", "URL must include a host")
	}
}

// isIdentifier reports whether s is a plain SQL identifier.
func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}
