package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override settings,
// e.g. TSBENCH_THREADSCOUNT or TSBENCH_SINK_URL.
const EnvPrefix = "TSBENCH"

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"measurementName":    "measurementName",
	"threadsCount":       "threadsCount",
	"secondsCount":       "secondsCount",
	"lineProtocolsCount": "lineProtocolsCount",
	"skipCount":          "skipCount",
	"tick":               "tick",
	"join-timeout":       "joinTimeout",
	"settle":             "settle",
	"type":               "sink.type",
	"url":                "sink.url",
	"database":           "sink.database",
	"org":                "sink.org",
	"bucket":             "sink.bucket",
	"token":              "sink.token",
	"dsn":                "sink.dsn",
	"table":              "sink.table",
	"compress":           "sink.compression",
	"batch-size":         "sink.batchSize",
	"flush-interval":     "sink.flushInterval",
	"sink-timeout":       "sink.timeout",
}

// Loader builds a BenchmarkConfig from, in increasing order of precedence,
// defaults, a configuration file, environment variables and flags.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with the default values registered.
func NewLoader() *Loader {
	v := viper.New()
	v.SetDefault("threadsCount", DefaultWorkerCount)
	v.SetDefault("secondsCount", DefaultDurationSeconds)
	v.SetDefault("lineProtocolsCount", DefaultBatchSize)
	v.SetDefault("skipCount", false)
	v.SetDefault("sink.type", string(SinkClientV2))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// BindFlags binds the known flags of the set to their configuration keys.
// Flags not present in the set are ignored.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// ReadFile reads a YAML or JSON configuration file.
//
// The file is checked against the configuration schema before it is merged,
// so unknown keys and mistyped values are reported with their location.
func (l *Loader) ReadFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return NewConfigError(fmt.Errorf("unsupported config file type %q (use .yaml, .yml or .json)", ext))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return NewConfigError(fmt.Errorf("failed to parse config file: %w", err))
	}
	if doc != nil {
		if err := ValidateDocument(doc); err != nil {
			return NewConfigError(err)
		}
	}

	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return NewConfigError(fmt.Errorf("failed to load config file: %w", err))
	}
	return nil
}

// Load decodes the merged settings, applies defaults and validates the result.
func (l *Loader) Load() (*BenchmarkConfig, error) {
	cfg := &BenchmarkConfig{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, NewConfigError(fmt.Errorf("failed to decode configuration: %w", err))
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFileUsed returns the path of the file read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Encode renders a configuration as YAML.
func Encode(cfg *BenchmarkConfig) ([]byte, error) {
	view := struct {
		MeasurementName string `yaml:"measurementName"`
		WorkerCount     int    `yaml:"threadsCount"`
		DurationSeconds int    `yaml:"secondsCount"`
		BatchSize       int    `yaml:"lineProtocolsCount"`
		SkipVerify      bool   `yaml:"skipCount"`
		Tick            string `yaml:"tick"`
		JoinTimeout     string `yaml:"joinTimeout"`
		Settle          string `yaml:"settle"`
		Sink            struct {
			Type          SinkType `yaml:"type"`
			URL           string   `yaml:"url,omitempty"`
			Database      string   `yaml:"database,omitempty"`
			Org           string   `yaml:"org,omitempty"`
			Bucket        string   `yaml:"bucket,omitempty"`
			Token         string   `yaml:"token,omitempty"`
			DSN           string   `yaml:"dsn,omitempty"`
			Table         string   `yaml:"table,omitempty"`
			Compression   string   `yaml:"compression,omitempty"`
			BatchSize     int      `yaml:"batchSize,omitempty"`
			FlushInterval string   `yaml:"flushInterval,omitempty"`
			Timeout       string   `yaml:"timeout,omitempty"`
		} `yaml:"sink"`
	}{
		MeasurementName: cfg.MeasurementName,
		WorkerCount:     cfg.WorkerCount,
		DurationSeconds: cfg.DurationSeconds,
		BatchSize:       cfg.BatchSize,
		SkipVerify:      cfg.SkipVerify,
		Tick:            cfg.Tick.String(),
		JoinTimeout:     cfg.JoinTimeout.String(),
		Settle:          cfg.Settle.String(),
	}

	s := cfg.Sink
	view.Sink.Type = s.Type
	view.Sink.URL = s.URL
	view.Sink.Database = s.Database
	view.Sink.Org = s.Org
	view.Sink.Bucket = s.Bucket
	view.Sink.Token = s.Token
	view.Sink.DSN = s.DSN
	view.Sink.Table = s.Table
	view.Sink.Compression = s.Compression
	view.Sink.BatchSize = s.BatchSize
	if s.FlushInterval > 0 {
		view.Sink.FlushInterval = s.FlushInterval.String()
	}
	if s.Timeout > 0 {
		view.Sink.Timeout = s.Timeout.String()
	}

	return yaml.Marshal(view)
}
