// Package verify compares what a run generated with what the backend persisted.
package verify

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
)

// DefaultTolerance is how many percentage points above 100 the persisted
// rate may reach before it is reported as duplication.
const DefaultTolerance = 1.0

// Report is the outcome of a verification.
type Report struct {
	Measurement string `json:"measurement" yaml:"measurement"`
	Expected    int64  `json:"expected" yaml:"expected"`
	Generated   int64  `json:"generated" yaml:"generated"`

	// Verified is false when the count query failed
	Verified  bool  `json:"verified" yaml:"verified"`
	Persisted int64 `json:"persisted" yaml:"persisted"`

	RatePercent float64 `json:"ratePercent" yaml:"ratePercent"`
	Throughput  float64 `json:"throughput" yaml:"throughput"`

	GeneratedRatePercent float64 `json:"generatedRatePercent" yaml:"generatedRatePercent"`
	GeneratedThroughput  float64 `json:"generatedThroughput" yaml:"generatedThroughput"`

	// AboveExpected flags persisted counts beyond the tolerance
	AboveExpected bool `json:"aboveExpected" yaml:"aboveExpected"`

	ElapsedMillis int64 `json:"elapsedMillis" yaml:"elapsedMillis"`

	QueryError error `json:"-" yaml:"-"`
}

// QueryErrorMessage returns the query error text, or "" when there is none.
func (r *Report) QueryErrorMessage() string {
	if r.QueryError == nil {
		return ""
	}
	return r.QueryError.Error()
}

// Verifier runs the post-run count query.
type Verifier struct {
	Tolerance float64
	logger    log.FieldLogger
}

// New creates a Verifier with the default tolerance.
func New(logger log.FieldLogger) *Verifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Verifier{Tolerance: DefaultTolerance, logger: logger}
}

// Verify waits cfg.Settle, counts the persisted records and computes rates.
//
// A failed count query is recorded in the report and never returned as an
// error. A cancelled settle wait skips the query.
func (v *Verifier) Verify(ctx context.Context, cfg *config.BenchmarkConfig, sink benchmark.Sink, generated, elapsedMillis int64) *Report {
	expected := cfg.ExpectedCount()
	report := &Report{
		Measurement:          cfg.MeasurementName,
		Expected:             expected,
		Generated:            generated,
		ElapsedMillis:        elapsedMillis,
		GeneratedRatePercent: ratePercent(generated, expected),
		GeneratedThroughput:  throughput(generated, elapsedMillis),
	}

	if err := settle(ctx, cfg.Settle); err != nil {
		report.QueryError = &benchmark.QueryError{Backend: string(cfg.Sink.Type), Measurement: cfg.MeasurementName, Err: err}
		return report
	}

	v.logger.WithField("measurement", cfg.MeasurementName).Info("querying persisted count")
	persisted, err := sink.CountPersisted(ctx, cfg.MeasurementName)
	if err != nil {
		var qerr *benchmark.QueryError
		if !errors.As(err, &qerr) {
			err = &benchmark.QueryError{Backend: string(cfg.Sink.Type), Measurement: cfg.MeasurementName, Err: err}
		}
		report.QueryError = err
		v.logger.WithError(err).Warn("count query failed")
		return report
	}

	report.Verified = true
	report.Persisted = persisted
	report.RatePercent = ratePercent(persisted, expected)
	report.Throughput = throughput(persisted, elapsedMillis)

	if report.RatePercent > 100+v.Tolerance {
		report.AboveExpected = true
		v.logger.WithFields(log.Fields{
			"persisted": persisted,
			"expected":  expected,
			"rate":      report.RatePercent,
		}).Warn("persisted count above expected, records may be duplicated")
	}
	return report
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ratePercent(n, expected int64) float64 {
	if expected <= 0 {
		return 0
	}
	return float64(n) / float64(expected) * 100
}

func throughput(n, elapsedMillis int64) float64 {
	if elapsedMillis <= 0 {
		return 0
	}
	return float64(n) / (float64(elapsedMillis) / 1000)
}
