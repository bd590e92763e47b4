package benchmark_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
)

// recordingSink keeps every record it receives.
type recordingSink struct {
	mu      sync.Mutex
	records []benchmark.Record
	delay   time.Duration
	fail    bool
	calls   atomic.Int64
}

func (s *recordingSink) WriteRecord(_ context.Context, r benchmark.Record) error {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail {
		return errors.New("backend unavailable")
	}
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Finish(context.Context) error { return nil }

func (s *recordingSink) CountPersisted(context.Context, string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

func (s *recordingSink) snapshot() []benchmark.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]benchmark.Record, len(s.records))
	copy(out, s.records)
	return out
}

func fastPlan(ticks, batch int) benchmark.Plan {
	return benchmark.Plan{
		Measurement: "sensor_test",
		Ticks:       ticks,
		BatchSize:   batch,
		Tick:        20 * time.Millisecond,
	}
}

func TestWorkerRunCompletesAllTicks(t *testing.T) {
	sink := &recordingSink{}
	state := benchmark.NewRunState()
	w := benchmark.NewWorker(3, nil)

	w.Run(context.Background(), fastPlan(3, 4), state, sink)

	assert.Equal(t, benchmark.WorkerStateStopped, w.GetState())
	assert.Equal(t, int64(12), state.Written())

	stats := w.Stats()
	assert.Equal(t, int64(3), stats.Ticks)
	assert.Equal(t, int64(12), stats.Written)
	assert.Equal(t, int64(0), stats.Failures)

	records := sink.snapshot()
	require.Len(t, records, 12)
	for i, r := range records {
		assert.Equal(t, int64(i), r.Timestamp, "timestamps are tick*batch+offset")
		id, _ := r.Tag(benchmark.TagWorkerID)
		assert.Equal(t, "3", id)
		assert.Equal(t, "sensor_test", r.Measurement)
	}
}

func TestWorkerTimestampsStrictlyIncrease(t *testing.T) {
	sink := &recordingSink{}
	w := benchmark.NewWorker(0, nil)

	w.Run(context.Background(), fastPlan(4, 7), benchmark.NewRunState(), sink)

	records := sink.snapshot()
	require.Len(t, records, 28)
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp <= records[i-1].Timestamp {
			t.Fatalf("timestamp %d at index %d does not follow %d", records[i].Timestamp, i, records[i-1].Timestamp)
		}
	}
}

func TestWorkerDoesNotStartWhenCancelled(t *testing.T) {
	sink := &recordingSink{}
	state := benchmark.NewRunState()
	state.Cancel()

	w := benchmark.NewWorker(0, nil)
	w.Run(context.Background(), fastPlan(5, 5), state, sink)

	assert.Equal(t, int64(0), sink.calls.Load())
	assert.Equal(t, int64(0), w.Stats().Ticks)
	assert.Equal(t, benchmark.WorkerStateStopped, w.GetState())
}

func TestWorkerStopsMidBatchOnCancel(t *testing.T) {
	sink := &recordingSink{delay: 30 * time.Millisecond}
	state := benchmark.NewRunState()
	w := benchmark.NewWorker(0, nil)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), fastPlan(10, 100), state, sink)
		close(done)
	}()

	time.Sleep(70 * time.Millisecond)
	state.Cancel()
	callsAtCancel := sink.calls.Load()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	// Only the write in flight when the flag was set may complete.
	assert.LessOrEqual(t, sink.calls.Load(), callsAtCancel+1)
	assert.Less(t, sink.calls.Load(), int64(100))
}

func TestWorkerCancelWakesPacingSleep(t *testing.T) {
	sink := &recordingSink{}
	state := benchmark.NewRunState()
	w := benchmark.NewWorker(0, nil)

	plan := fastPlan(3, 1)
	plan.Tick = time.Hour

	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), plan, state, sink)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	state.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pacing sleep was not interrupted by cancellation")
	}
	assert.Equal(t, int64(1), state.Written())
}

func TestWorkerWriteFailuresAreNotCounted(t *testing.T) {
	sink := &recordingSink{fail: true}
	state := benchmark.NewRunState()
	w := benchmark.NewWorker(0, nil)

	w.Run(context.Background(), fastPlan(2, 5), state, sink)

	assert.Equal(t, int64(0), state.Written())
	assert.Equal(t, int64(10), sink.calls.Load(), "failures do not abort the loop")
	assert.Equal(t, int64(10), w.Stats().Failures)
	assert.Equal(t, benchmark.WorkerStateStopped, w.GetState())
}

func TestWorkerPacesTicks(t *testing.T) {
	sink := &recordingSink{}
	w := benchmark.NewWorker(0, nil)

	plan := fastPlan(3, 2)
	plan.Tick = 50 * time.Millisecond

	start := time.Now()
	w.Run(context.Background(), plan, benchmark.NewRunState(), sink)
	elapsed := time.Since(start)

	// One pacing sleep per tick, the last one included.
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 150*time.Millisecond+100*time.Millisecond)
}

func TestWorkerStateString(t *testing.T) {
	tests := []struct {
		state benchmark.WorkerState
		want  string
	}{
		{benchmark.WorkerStateIdle, "idle"},
		{benchmark.WorkerStateRunning, "running"},
		{benchmark.WorkerStateStopped, "stopped"},
		{benchmark.WorkerState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("WorkerState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
