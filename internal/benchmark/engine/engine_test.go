package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
	"github.com/wesleyorama2/tsbench/internal/benchmark/metrics"
	"github.com/wesleyorama2/tsbench/internal/benchmark/sink"
)

// fakeSink can delay, fail and fail to finish.
type fakeSink struct {
	delay     time.Duration
	failWrite bool
	finishErr error

	calls       atomic.Int64
	written     atomic.Int64
	finishCalls atomic.Int64
	countCalls  atomic.Int64
}

func (s *fakeSink) WriteRecord(context.Context, benchmark.Record) error {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failWrite {
		return &benchmark.WriteError{Backend: "fake", Err: errors.New("rejected")}
	}
	s.written.Add(1)
	return nil
}

func (s *fakeSink) Finish(context.Context) error {
	s.finishCalls.Add(1)
	return s.finishErr
}

func (s *fakeSink) CountPersisted(context.Context, string) (int64, error) {
	s.countCalls.Add(1)
	return s.written.Load(), nil
}

func testConfig(workers, ticks, batch int) *config.BenchmarkConfig {
	cfg := &config.BenchmarkConfig{
		MeasurementName: "sensor_engine",
		WorkerCount:     workers,
		DurationSeconds: ticks,
		BatchSize:       batch,
		Tick:            50 * time.Millisecond,
		Settle:          time.Millisecond,
		JoinTimeout:     2 * time.Second,
		Sink:            config.SinkConfig{Type: config.SinkMemory},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestRunCompletesAndVerifies(t *testing.T) {
	memory := sink.NewMemory()
	cfg := testConfig(2, 2, 3)

	result, err := NewRunner().Run(context.Background(), cfg, memory)
	require.NoError(t, err)

	assert.Equal(t, int64(12), result.ExpectedCount)
	assert.Equal(t, int64(12), result.GeneratedCount)
	assert.Equal(t, int64(12), result.PersistedCount)
	require.NotNil(t, result.Verification)
	assert.True(t, result.Verified())
	assert.InDelta(t, 100, result.Verification.RatePercent, 0.0001)
	assert.Empty(t, result.AbandonedWorkers)
	assert.Nil(t, result.FinishError)
	assert.Equal(t, 1, memory.FinishCalls())
	assert.Equal(t, 1, memory.CountCalls())
	assert.NotEmpty(t, result.RunID)

	n, err := memory.CountPersisted(context.Background(), cfg.MeasurementName)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestRunDeadlineBoundsExtraWrites(t *testing.T) {
	const workers = 3
	slow := &fakeSink{delay: 300 * time.Millisecond}
	cfg := testConfig(workers, 1, 5)
	cfg.Tick = 100 * time.Millisecond
	cfg.SkipVerify = true

	start := time.Now()
	result, err := NewRunner().Run(context.Background(), cfg, slow)
	require.NoError(t, err)

	ticksCompletedBeforeCancel := 0
	maxWrites := int64(workers * (ticksCompletedBeforeCancel*cfg.BatchSize + 1))
	assert.LessOrEqual(t, slow.calls.Load(), maxWrites)
	assert.LessOrEqual(t, result.GeneratedCount, maxWrites)
	assert.Less(t, result.GeneratedCount, result.ExpectedCount)
	assert.Empty(t, result.AbandonedWorkers)
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
}

func TestRunSkipVerifyNeverCounts(t *testing.T) {
	memory := sink.NewMemory()
	cfg := testConfig(2, 1, 2)
	cfg.SkipVerify = true

	result, err := NewRunner().Run(context.Background(), cfg, memory)
	require.NoError(t, err)

	assert.Equal(t, 0, memory.CountCalls())
	assert.Nil(t, result.Verification)
	assert.Equal(t, NotVerified, result.PersistedCount)
	assert.False(t, result.Verified())
	assert.Equal(t, int64(4), result.GeneratedCount)
}

func TestRunAllWritesFail(t *testing.T) {
	failing := &fakeSink{failWrite: true}
	cfg := testConfig(2, 2, 3)

	result, err := NewRunner().Run(context.Background(), cfg, failing)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, int64(0), result.GeneratedCount)
	assert.Equal(t, int64(12), result.WriteFailures)
	assert.Equal(t, int64(12), result.Metrics.FailedWrites)
	require.NotNil(t, result.Verification)
	assert.Equal(t, int64(0), result.PersistedCount)
}

func TestRunRejectsInvalidConfigBeforeSpawning(t *testing.T) {
	s := &fakeSink{}
	cfg := testConfig(2, 2, 3)
	cfg.WorkerCount = 0

	result, err := NewRunner().Run(context.Background(), cfg, s)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, config.IsConfigError(err))
	assert.Equal(t, int64(0), s.calls.Load())
	assert.Equal(t, int64(0), s.finishCalls.Load())
}

func TestRunRejectsNilSink(t *testing.T) {
	_, err := NewRunner().Run(context.Background(), testConfig(1, 1, 1), nil)
	assert.True(t, config.IsConfigError(err))
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	runner := NewRunner()
	slow := &fakeSink{delay: 20 * time.Millisecond}
	cfg := testConfig(1, 2, 2)
	cfg.SkipVerify = true

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = runner.Run(context.Background(), cfg, slow)
	}()

	require.Eventually(t, runner.IsRunning, time.Second, time.Millisecond)
	_, err := runner.Run(context.Background(), testConfig(1, 1, 1), sink.NewMemory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner is already running")
	assert.False(t, config.IsConfigError(err))

	wg.Wait()
	assert.False(t, runner.IsRunning())
}

func TestRunReportsAbandonedWorkers(t *testing.T) {
	slow := &fakeSink{delay: time.Second}
	cfg := testConfig(3, 1, 5)
	cfg.Tick = 20 * time.Millisecond
	cfg.JoinTimeout = 50 * time.Millisecond
	cfg.SkipVerify = true

	result, err := NewRunner().Run(context.Background(), cfg, slow)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{0, 1, 2}, result.AbandonedWorkers)
	assert.Less(t, result.ElapsedMillis, int64(900))
	assert.Equal(t, int64(1), slow.finishCalls.Load())
}

func TestRunRecordsFlushError(t *testing.T) {
	s := &fakeSink{finishErr: errors.New("disk full")}
	cfg := testConfig(1, 1, 1)
	cfg.SkipVerify = true

	result, err := NewRunner().Run(context.Background(), cfg, s)
	require.NoError(t, err)

	var ferr *benchmark.FlushError
	require.True(t, errors.As(result.FinishError, &ferr))
	assert.Equal(t, string(config.SinkMemory), ferr.Backend)
	assert.Equal(t, int64(1), s.finishCalls.Load())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := &fakeSink{}
	cfg := testConfig(2, 100, 1)
	cfg.SkipVerify = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(120 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := NewRunner().Run(ctx, cfg, s)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Less(t, result.GeneratedCount, result.ExpectedCount)
	assert.Equal(t, int64(1), s.finishCalls.Load())
}

func TestRunMetricsAndPhases(t *testing.T) {
	cfg := testConfig(2, 2, 3)
	cfg.SkipVerify = true

	mc := metrics.DefaultEngineConfig()
	mc.BucketInterval = 10 * time.Millisecond
	result, err := NewRunner(WithMetricsConfig(mc)).Run(context.Background(), cfg, sink.NewMemory())
	require.NoError(t, err)

	assert.Equal(t, int64(12), result.Metrics.TotalWrites)
	assert.Equal(t, int64(12), result.Metrics.SuccessWrites)
	assert.Equal(t, metrics.PhaseDone, result.Metrics.CurrentPhase)
	assert.Equal(t, 0, result.Metrics.ActiveWorkers)
	assert.NotEmpty(t, result.TimeSeries)

	var phases []metrics.Phase
	for _, p := range result.Phases {
		phases = append(phases, p.Phase)
	}
	assert.Equal(t, []metrics.Phase{metrics.PhaseWriting, metrics.PhaseDraining, metrics.PhaseDone}, phases)
}

func TestRunUsesClock(t *testing.T) {
	var ticks atomic.Int64
	base := time.Unix(1700000000, 0)
	clock := func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Second)
	}

	cfg := testConfig(1, 1, 1)
	cfg.SkipVerify = true
	result, err := NewRunner(WithClock(clock)).Run(context.Background(), cfg, sink.NewMemory())
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.ElapsedMillis%1000)
	assert.Greater(t, result.ElapsedMillis, int64(0))
}

func TestRunnerIdleState(t *testing.T) {
	runner := NewRunner()
	assert.False(t, runner.IsRunning())
	assert.Equal(t, 0.0, runner.Progress())
	assert.Nil(t, runner.Metrics())
}

func TestRunSpansEveryTick(t *testing.T) {
	const (
		workers = 2
		batch   = 3
		tick    = 100 * time.Millisecond
	)
	pacedRate := float64(workers*batch) / tick.Seconds()

	for _, ticks := range []int{1, 2} {
		t.Run(fmt.Sprintf("%d ticks", ticks), func(t *testing.T) {
			cfg := testConfig(workers, ticks, batch)
			cfg.Tick = tick

			result, err := NewRunner().Run(context.Background(), cfg, sink.NewMemory())
			require.NoError(t, err)
			require.True(t, result.Verified())

			runMillis := int64(ticks) * tick.Milliseconds()
			assert.GreaterOrEqual(t, result.ElapsedMillis, runMillis)
			assert.Less(t, result.ElapsedMillis, runMillis+80)
			assert.Equal(t, int64(workers*batch*ticks), result.PersistedCount)
			assert.InEpsilon(t, pacedRate, result.Verification.Throughput, 0.3)
		})
	}
}

func TestRunVerifiesAfterInterrupt(t *testing.T) {
	memory := sink.NewMemory()
	cfg := testConfig(2, 100, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	result, err := NewRunner().Run(ctx, cfg, memory)
	require.NoError(t, err)

	assert.Less(t, result.GeneratedCount, result.ExpectedCount)
	assert.Equal(t, 1, memory.FinishCalls())
	assert.Equal(t, 1, memory.CountCalls())
	require.NotNil(t, result.Verification)
	assert.True(t, result.Verified())
	assert.Equal(t, result.GeneratedCount, result.PersistedCount)
}

func TestRunLeavesConfigUntouched(t *testing.T) {
	cfg := &config.BenchmarkConfig{
		WorkerCount:     1,
		DurationSeconds: 1,
		BatchSize:       1,
		Tick:            10 * time.Millisecond,
		SkipVerify:      true,
		Sink:            config.SinkConfig{Type: config.SinkMemory},
	}
	before := *cfg

	result, err := NewRunner().Run(context.Background(), cfg, sink.NewMemory())
	require.NoError(t, err)

	assert.Equal(t, before, *cfg)
	assert.NotEmpty(t, result.Measurement)
}
