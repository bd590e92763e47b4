// Package metrics aggregates write-call latency and throughput for a run.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects write metrics using an HDR histogram.
//
// Counters are atomic, the histogram is mutex protected, and a background
// emitter closes one time bucket per BucketInterval. When Collectors are
// attached every observation is mirrored to them.
type Engine struct {
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	totalWrites   atomic.Int64
	successWrites atomic.Int64
	failedWrites  atomic.Int64

	activeWorkers atomic.Int32

	bucketStore *TimeBucketStore

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time

	emitterCtx    context.Context
	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	collectors *Collectors
	config     EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 3600)
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// Collectors, when set, receive every observation
	Collectors *Collectors
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine and starts its emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())

	engine := &Engine{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		phaseHistory:  make([]PhaseChange, 0),
		startTime:     time.Now(),
		emitterCtx:    ctx,
		emitterCancel: cancel,
		collectors:    config.Collectors,
		config:        config,
	}

	engine.emitterWg.Add(1)
	go engine.runEmitter()

	return engine
}

// RecordWrite records the latency and outcome of one write call.
func (e *Engine) RecordWrite(duration time.Duration, err error) {
	latencyMicros := duration.Microseconds()
	if latencyMicros < e.config.HistogramMin {
		latencyMicros = e.config.HistogramMin
	}
	if latencyMicros > e.config.HistogramMax {
		latencyMicros = e.config.HistogramMax
	}

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	success := err == nil
	e.totalWrites.Add(1)
	if success {
		e.successWrites.Add(1)
	} else {
		e.failedWrites.Add(1)
	}

	e.bucketStore.RecordWrite(success)

	if e.collectors != nil {
		e.collectors.observe(duration, success)
	}
}

// SetPhase updates the current run phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Writes:    e.totalWrites.Load(),
	})
}

// GetPhase returns the current run phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// SetActiveWorkers updates the active worker count.
func (e *Engine) SetActiveWorkers(count int) {
	e.activeWorkers.Store(int32(count))
	if e.collectors != nil {
		e.collectors.ActiveWorkers.Set(float64(count))
	}
}

// GetActiveWorkers returns the current active worker count.
func (e *Engine) GetActiveWorkers() int {
	return int(e.activeWorkers.Load())
}

func (e *Engine) runEmitter() {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.emitterCtx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.bucketStore.CreateBucket(
		e.totalWrites.Load(), e.successWrites.Load(), e.failedWrites.Load(),
		e.GetLatencyPercentiles(), e.GetActiveWorkers(), e.GetPhase(),
	)
}

// GetLatencyPercentiles returns current latency percentiles.
func (e *Engine) GetLatencyPercentiles() LatencyPercentiles {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	return LatencyPercentiles{
		Min: micros(e.latencyHist.Min()),
		Max: micros(e.latencyHist.Max()),
		P50: micros(e.latencyHist.ValueAtQuantile(50)),
		P90: micros(e.latencyHist.ValueAtQuantile(90)),
		P95: micros(e.latencyHist.ValueAtQuantile(95)),
		P99: micros(e.latencyHist.ValueAtQuantile(99)),
	}
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := LatencyStats{
		Min:    micros(e.latencyHist.Min()),
		Max:    micros(e.latencyHist.Max()),
		Mean:   time.Duration(e.latencyHist.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(e.latencyHist.StdDev() * float64(time.Microsecond)),
		P50:    micros(e.latencyHist.ValueAtQuantile(50)),
		P90:    micros(e.latencyHist.ValueAtQuantile(90)),
		P95:    micros(e.latencyHist.ValueAtQuantile(95)),
		P99:    micros(e.latencyHist.ValueAtQuantile(99)),
		Count:  e.latencyHist.TotalCount(),
	}
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	total := e.totalWrites.Load()
	failed := e.failedWrites.Load()

	wps := 0.0
	if elapsed.Seconds() > 0 {
		wps = float64(total) / elapsed.Seconds()
	}
	writingWPS, _ := e.bucketStore.WritingWPS()

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalWrites:   total,
		SuccessWrites: e.successWrites.Load(),
		FailedWrites:  failed,
		Latency:       latency,
		WPS:           wps,
		WritingWPS:    writingWPS,
		ErrorRate:     errorRate,
		ActiveWorkers: e.GetActiveWorkers(),
		CurrentPhase:  e.GetPhase(),
		Elapsed:       elapsed,
		StartTime:     e.startTime,
		Timestamp:     time.Now(),
	}
}

// GetTimeSeries returns all time-series buckets.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// Stop stops the emitter and emits a final bucket. Safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}

// Reset resets all metrics to their initial state.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.totalWrites.Store(0)
	e.successWrites.Store(0)
	e.failedWrites.Store(0)
	e.activeWorkers.Store(0)

	e.bucketStore.Reset()

	e.phaseMu.Lock()
	e.currentPhase = PhaseInit
	e.phaseHistory = make([]PhaseChange, 0)
	e.phaseMu.Unlock()

	e.startTime = time.Now()
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
