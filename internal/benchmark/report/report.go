// Package report writes machine-readable results of a benchmark run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
	"github.com/wesleyorama2/tsbench/internal/benchmark/engine"
	"github.com/wesleyorama2/tsbench/internal/benchmark/metrics"
)

// ResultFormatVersion is the version of the Result document layout.
const ResultFormatVersion = "0.1"

// Format represents the available report formats
type Format string

const (
	// FormatJSON is the default format
	FormatJSON Format = "json"
	// FormatYAML renders the same document as YAML
	FormatYAML Format = "yaml"
	// FormatHTML renders a standalone HTML page
	FormatHTML Format = "html"
)

// ParseFormat parses a format name. The empty string selects JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unknown report format %q (use json, yaml or html)", s)
	}
}

// Result aggregates the outcome of one run in a format shared by every sink.
type Result struct {
	ResultFormatVersion string `json:"resultFormatVersion" yaml:"resultFormatVersion"`

	RunID       string    `json:"runId" yaml:"runId"`
	Measurement string    `json:"measurement" yaml:"measurement"`
	SinkType    string    `json:"sinkType" yaml:"sinkType"`
	Config      RunConfig `json:"config" yaml:"config"`

	StartTime      int64 `json:"startTime" yaml:"startTime"`
	EndTime        int64 `json:"endTime" yaml:"endTime"`
	DurationMillis int64 `json:"durationMillis" yaml:"durationMillis"`

	Totals  Totals        `json:"totals" yaml:"totals"`
	Latency LatencyMillis `json:"latencyMillis" yaml:"latencyMillis"`
	Errors  Errors        `json:"errors" yaml:"errors"`

	Phases     []Phase    `json:"phases,omitempty" yaml:"phases,omitempty"`
	TimeSeries []Interval `json:"timeSeries,omitempty" yaml:"timeSeries,omitempty"`
}

// RunConfig is the part of the configuration that shaped the load.
// Credentials are never included.
type RunConfig struct {
	Workers       int    `json:"threadsCount" yaml:"threadsCount"`
	Ticks         int    `json:"secondsCount" yaml:"secondsCount"`
	BatchSize     int    `json:"lineProtocolsCount" yaml:"lineProtocolsCount"`
	Tick          string `json:"tick" yaml:"tick"`
	SkipCount     bool   `json:"skipCount" yaml:"skipCount"`
	URL           string `json:"url,omitempty" yaml:"url,omitempty"`
	Compression   string `json:"compression,omitempty" yaml:"compression,omitempty"`
	SinkBatchSize int    `json:"sinkBatchSize,omitempty" yaml:"sinkBatchSize,omitempty"`
}

// Totals holds the counts and rates of the run.
type Totals struct {
	Expected  int64 `json:"expected" yaml:"expected"`
	Generated int64 `json:"generated" yaml:"generated"`

	// Persisted is nil when the count was skipped or failed
	Persisted *int64 `json:"persisted" yaml:"persisted"`

	WriteFailures int64   `json:"writeFailures" yaml:"writeFailures"`
	RatePercent   float64 `json:"ratePercent" yaml:"ratePercent"`
	Throughput    float64 `json:"recordsPerSecond" yaml:"recordsPerSecond"`
	AboveExpected bool    `json:"aboveExpected,omitempty" yaml:"aboveExpected,omitempty"`
}

// LatencyMillis holds write-call latency in milliseconds.
type LatencyMillis struct {
	Min  float64 `json:"min" yaml:"min"`
	Mean float64 `json:"mean" yaml:"mean"`
	P50  float64 `json:"p50" yaml:"p50"`
	P90  float64 `json:"p90" yaml:"p90"`
	P95  float64 `json:"p95" yaml:"p95"`
	P99  float64 `json:"p99" yaml:"p99"`
	Max  float64 `json:"max" yaml:"max"`
}

// Errors holds the failures that did not abort the run.
type Errors struct {
	Query            string `json:"query,omitempty" yaml:"query,omitempty"`
	Finish           string `json:"finish,omitempty" yaml:"finish,omitempty"`
	AbandonedWorkers []int  `json:"abandonedWorkers,omitempty" yaml:"abandonedWorkers,omitempty"`
}

// Phase is one phase transition.
type Phase struct {
	Phase     string `json:"phase" yaml:"phase"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Writes    int64  `json:"writes" yaml:"writes"`
}

// Interval is one time-series bucket.
type Interval struct {
	Timestamp     string  `json:"timestamp" yaml:"timestamp"`
	Writes        int64   `json:"writes" yaml:"writes"`
	TotalWrites   int64   `json:"totalWrites" yaml:"totalWrites"`
	WPS           float64 `json:"wps" yaml:"wps"`
	ErrorRate     float64 `json:"errorRate" yaml:"errorRate"`
	P95Millis     float64 `json:"p95Millis" yaml:"p95Millis"`
	ActiveWorkers int     `json:"activeWorkers" yaml:"activeWorkers"`
	Phase         string  `json:"phase" yaml:"phase"`
}

// Build converts a run result into a report document.
func Build(result *engine.RunResult, cfg *config.BenchmarkConfig) *Result {
	r := &Result{
		ResultFormatVersion: ResultFormatVersion,
		RunID:               result.RunID,
		Measurement:         result.Measurement,
		SinkType:            result.SinkType,
		StartTime:           result.StartTime.UnixMilli(),
		EndTime:             result.EndTime.UnixMilli(),
		DurationMillis:      result.ElapsedMillis,
		Totals: Totals{
			Expected:      result.ExpectedCount,
			Generated:     result.GeneratedCount,
			WriteFailures: result.WriteFailures,
		},
		Errors: Errors{AbandonedWorkers: result.AbandonedWorkers},
	}

	if cfg != nil {
		r.Config = RunConfig{
			Workers:       cfg.WorkerCount,
			Ticks:         cfg.DurationSeconds,
			BatchSize:     cfg.BatchSize,
			Tick:          cfg.Tick.String(),
			SkipCount:     cfg.SkipVerify,
			URL:           redactURL(cfg.Sink.URL),
			Compression:   cfg.Sink.Compression,
			SinkBatchSize: cfg.Sink.BatchSize,
		}
	}

	if v := result.Verification; v != nil {
		if v.Verified {
			persisted := v.Persisted
			r.Totals.Persisted = &persisted
			r.Totals.RatePercent = v.RatePercent
			r.Totals.Throughput = v.Throughput
			r.Totals.AboveExpected = v.AboveExpected
		} else {
			r.Totals.RatePercent = v.GeneratedRatePercent
			r.Totals.Throughput = v.GeneratedThroughput
		}
		r.Errors.Query = v.QueryErrorMessage()
	} else if result.ExpectedCount > 0 {
		r.Totals.RatePercent = float64(result.GeneratedCount) / float64(result.ExpectedCount) * 100
		if result.ElapsedMillis > 0 {
			r.Totals.Throughput = float64(result.GeneratedCount) / (float64(result.ElapsedMillis) / 1000)
		}
	}

	if result.FinishError != nil {
		r.Errors.Finish = result.FinishError.Error()
	}

	if m := result.Metrics; m != nil {
		r.Latency = LatencyMillis{
			Min:  millis(m.Latency.Min),
			Mean: millis(m.Latency.Mean),
			P50:  millis(m.Latency.P50),
			P90:  millis(m.Latency.P90),
			P95:  millis(m.Latency.P95),
			P99:  millis(m.Latency.P99),
			Max:  millis(m.Latency.Max),
		}
	}

	for _, p := range result.Phases {
		r.Phases = append(r.Phases, Phase{
			Phase:     string(p.Phase),
			Timestamp: p.Timestamp.Format(time.RFC3339Nano),
			Writes:    p.Writes,
		})
	}
	r.TimeSeries = intervals(result.TimeSeries)

	return r
}

// redactURL drops the userinfo and query of a backend URL, where InfluxDB
// credentials can be passed.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

func intervals(buckets []*metrics.TimeBucket) []Interval {
	if len(buckets) == 0 {
		return nil
	}
	out := make([]Interval, len(buckets))
	for i, b := range buckets {
		out[i] = Interval{
			Timestamp:     b.Timestamp.Format(time.RFC3339),
			Writes:        b.IntervalWrites,
			TotalWrites:   b.TotalWrites,
			WPS:           b.IntervalWPS,
			ErrorRate:     b.IntervalErrorRate,
			P95Millis:     millis(b.LatencyP95),
			ActiveWorkers: b.ActiveWorkers,
			Phase:         string(b.Phase),
		}
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Encode renders a report document in the given format.
func Encode(r *Result, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON report: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		data, err := yaml.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to encode YAML report: %w", err)
		}
		return data, nil
	case FormatHTML:
		return renderHTML(r)
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// WriteTo encodes the report of a run to w.
func WriteTo(w io.Writer, format Format, result *engine.RunResult, cfg *config.BenchmarkConfig) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	data, err := Encode(Build(result, cfg), format)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Write encodes the report of a run to the file at path, or to stdout when
// path is "-".
func Write(path string, format Format, result *engine.RunResult, cfg *config.BenchmarkConfig) error {
	if path == "-" {
		return WriteTo(os.Stdout, format, result, cfg)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := WriteTo(f, format, result, cfg); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}
