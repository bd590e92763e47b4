// Package engine orchestrates a benchmark run: it spawns the workers, arms
// the deadline, joins, flushes the sink and verifies the persisted count.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
	"github.com/wesleyorama2/tsbench/internal/benchmark/metrics"
	"github.com/wesleyorama2/tsbench/internal/benchmark/sink"
	"github.com/wesleyorama2/tsbench/internal/benchmark/verify"
)

// NotVerified is the PersistedCount of a run whose count was not obtained.
const NotVerified int64 = -1

// RunResult contains the outcome of one run.
type RunResult struct {
	RunID       string    `json:"runId"`
	Measurement string    `json:"measurement"`
	SinkType    string    `json:"sinkType"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`

	ExpectedCount  int64 `json:"expectedCount"`
	GeneratedCount int64 `json:"generatedCount"`

	// PersistedCount is NotVerified unless verification succeeded
	PersistedCount int64 `json:"persistedCount"`

	// ElapsedMillis spans from worker spawn to join completion
	ElapsedMillis int64 `json:"elapsedMillis"`

	WriteFailures    int64 `json:"writeFailures"`
	AbandonedWorkers []int `json:"abandonedWorkers,omitempty"`

	// FinishError is the FlushError returned by the sink, if any
	FinishError error `json:"-"`

	// Verification is nil when verification was skipped
	Verification *verify.Report `json:"verification,omitempty"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`
	Phases     []metrics.PhaseChange `json:"phases,omitempty"`
}

// Verified reports whether a persisted count was obtained.
func (r *RunResult) Verified() bool {
	return r.Verification != nil && r.Verification.Verified
}

// Runner executes benchmark runs, one at a time.
type Runner struct {
	logger        log.FieldLogger
	verifier      *verify.Verifier
	metricsConfig metrics.EngineConfig
	now           func() time.Time

	mu            sync.RWMutex
	running       bool
	startTime     time.Time
	deadline      time.Duration
	metricsEngine *metrics.Engine
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used by the runner and its workers.
func WithLogger(logger log.FieldLogger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithVerifier replaces the default verifier.
func WithVerifier(v *verify.Verifier) Option {
	return func(r *Runner) { r.verifier = v }
}

// WithMetricsConfig sets the configuration of each run's metrics engine.
func WithMetricsConfig(cfg metrics.EngineConfig) Option {
	return func(r *Runner) { r.metricsConfig = cfg }
}

// WithCollectors mirrors every run's metrics to Prometheus collectors.
func WithCollectors(c *metrics.Collectors) Option {
	return func(r *Runner) { r.metricsConfig.Collectors = c }
}

// WithClock replaces time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger:        log.StandardLogger(),
		metricsConfig: metrics.DefaultEngineConfig(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.verifier == nil {
		r.verifier = verify.New(r.logger)
	}
	return r
}

// Run executes one benchmark against s.
//
// The only returned errors are a *config.ConfigError for an invalid
// configuration and a refusal to start a second concurrent run. Write, flush
// and query failures are reported in the result. Defaults are applied to a
// copy of cfg.
func (r *Runner) Run(ctx context.Context, cfg *config.BenchmarkConfig, s benchmark.Sink) (*RunResult, error) {
	if cfg == nil {
		return nil, config.NewConfigError(errors.New("configuration is required"))
	}
	runCfg := *cfg
	cfg = &runCfg
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, config.NewConfigError(errors.New("sink is required"))
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, fmt.Errorf("runner is already running")
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	metricsEngine := metrics.NewEngineWithConfig(r.metricsConfig)
	defer metricsEngine.Stop()

	result := &RunResult{
		RunID:          uuid.New().String(),
		Measurement:    cfg.MeasurementName,
		SinkType:       string(cfg.Sink.Type),
		ExpectedCount:  cfg.ExpectedCount(),
		PersistedCount: NotVerified,
	}
	logger := r.logger.WithField("run", result.RunID)

	instrumented := sink.Instrument(s, metricsEngine)
	state := benchmark.NewRunState()
	pool := benchmark.NewPool(logger)
	plan := benchmark.Plan{
		Measurement: cfg.MeasurementName,
		Ticks:       cfg.DurationSeconds,
		BatchSize:   cfg.BatchSize,
		Tick:        cfg.Tick,
	}

	logger.WithFields(log.Fields{
		"sink":        cfg.Sink.Type,
		"measurement": cfg.MeasurementName,
		"expected":    result.ExpectedCount,
	}).Infof("starting %d writers for %d ticks of %d records", cfg.WorkerCount, cfg.DurationSeconds, cfg.BatchSize)

	start := r.now()
	r.mu.Lock()
	r.startTime = start
	r.deadline = cfg.RunDuration()
	r.metricsEngine = metricsEngine
	r.mu.Unlock()

	metricsEngine.SetPhase(metrics.PhaseWriting)
	pool.Start(ctx, cfg.WorkerCount, plan, state, instrumented)
	stopTracking := trackActiveWorkers(pool, metricsEngine)

	r.awaitEnd(ctx, cfg, state, pool, logger)

	metricsEngine.SetPhase(metrics.PhaseDraining)
	abandoned := pool.Wait(cfg.JoinTimeout)
	if len(abandoned) > 0 {
		logger.WithFields(log.Fields{
			"event":     "WorkerJoinTimeout",
			"abandoned": abandoned,
		}).Warnf("%d writers did not stop within %s, continuing with partial counts", len(abandoned), cfg.JoinTimeout)
	}
	end := r.now()
	stopTracking()

	result.StartTime = start
	result.ElapsedMillis = end.Sub(start).Milliseconds()
	result.GeneratedCount = state.Written()
	result.WriteFailures = pool.Failures()
	result.AbandonedWorkers = abandoned

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Sink.Timeout)
	result.FinishError = finish(finishCtx, instrumented, cfg)
	cancel()
	if result.FinishError != nil {
		logger.WithError(result.FinishError).Warn("sink finish failed")
	}

	logger.WithFields(log.Fields{
		"generated": result.GeneratedCount,
		"failures":  result.WriteFailures,
		"elapsedMs": result.ElapsedMillis,
	}).Info("writers stopped")

	if !cfg.SkipVerify {
		metricsEngine.SetPhase(metrics.PhaseVerifying)
		// An interrupted run still counts what it flushed
		verifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Settle+cfg.Sink.Timeout)
		result.Verification = r.verifier.Verify(verifyCtx, cfg, instrumented, result.GeneratedCount, result.ElapsedMillis)
		cancel()
		if result.Verification.Verified {
			result.PersistedCount = result.Verification.Persisted
		}
	}

	if err := instrumented.Close(); err != nil {
		logger.WithError(err).Warn("closing sink failed")
	}

	metricsEngine.SetPhase(metrics.PhaseDone)
	metricsEngine.Stop()
	result.EndTime = r.now()
	result.Metrics = metricsEngine.GetSnapshot()
	result.TimeSeries = metricsEngine.GetTimeSeries()
	result.Phases = metricsEngine.GetPhaseHistory()

	return result, nil
}

// awaitEnd blocks until every worker finished, the deadline fired or ctx was
// cancelled, and raises the cancellation flag in the latter two cases.
func (r *Runner) awaitEnd(ctx context.Context, cfg *config.BenchmarkConfig, state *benchmark.RunState, pool *benchmark.Pool, logger log.FieldLogger) {
	deadline := time.NewTimer(cfg.RunDuration())
	defer deadline.Stop()

	select {
	case <-pool.Done():
		logger.Debug("all writers completed their ticks")
	case <-deadline.C:
		if state.Cancel() {
			logger.Infof("the time: %d seconds elapsed, stopping all writers", cfg.DurationSeconds)
		}
	case <-ctx.Done():
		if state.Cancel() {
			logger.WithError(ctx.Err()).Warn("run interrupted, stopping all writers")
		}
	}
}

func finish(ctx context.Context, s benchmark.Sink, cfg *config.BenchmarkConfig) error {
	err := s.Finish(ctx)
	if err == nil {
		return nil
	}
	var ferr *benchmark.FlushError
	if errors.As(err, &ferr) {
		return err
	}
	return &benchmark.FlushError{Backend: string(cfg.Sink.Type), Err: err}
}

func trackActiveWorkers(pool *benchmark.Pool, m *metrics.Engine) func() {
	m.SetActiveWorkers(pool.Active())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				m.SetActiveWorkers(pool.Active())
				return
			case <-ticker.C:
				m.SetActiveWorkers(pool.Active())
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

// IsRunning reports whether a run is in progress.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Progress returns the fraction of the run's deadline that has elapsed,
// between 0 and 1.
func (r *Runner) Progress() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.running || r.deadline <= 0 || r.startTime.IsZero() {
		return 0
	}
	p := float64(r.now().Sub(r.startTime)) / float64(r.deadline)
	if p > 1 {
		return 1
	}
	return p
}

// Metrics returns a snapshot of the current or most recent run, or nil
// before the first run starts.
func (r *Runner) Metrics() *metrics.Snapshot {
	r.mu.RLock()
	m := r.metricsEngine
	r.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetSnapshot()
}
