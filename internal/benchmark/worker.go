package benchmark

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// WorkerState represents the lifecycle state of a Worker.
type WorkerState int32

const (
	// WorkerStateIdle indicates the worker has been created but not started.
	WorkerStateIdle WorkerState = iota
	// WorkerStateRunning indicates the worker is generating and writing records.
	WorkerStateRunning
	// WorkerStateStopped indicates the worker has returned.
	WorkerStateStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateRunning:
		return "running"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Plan is the per-worker view of a benchmark configuration.
type Plan struct {
	// Measurement is the series every record is written to
	Measurement string

	// Ticks is the number of pacing ticks to run
	Ticks int

	// BatchSize is the number of records generated per tick
	BatchSize int

	// Tick is the pacing interval (one second in a real run)
	Tick time.Duration
}

// Worker generates and writes one batch of records per tick.
type Worker struct {
	// ID is the worker id, unique within a run and carried as the "id" tag
	ID int

	state    atomic.Int32
	ticks    atomic.Int64
	written  atomic.Int64
	failures atomic.Int64

	logger log.FieldLogger
	now    func() time.Time
}

// WorkerStats is a point-in-time view of a worker's progress.
type WorkerStats struct {
	ID       int         `json:"id"`
	State    WorkerState `json:"state"`
	Ticks    int64       `json:"ticks"`
	Written  int64       `json:"written"`
	Failures int64       `json:"failures"`
}

// NewWorker creates a worker. A nil logger falls back to the standard logger.
func NewWorker(id int, logger log.FieldLogger) *Worker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Worker{
		ID:     id,
		logger: logger.WithField("worker", id),
		now:    time.Now,
	}
}

// GetState returns the current worker state.
func (w *Worker) GetState() WorkerState {
	return WorkerState(w.state.Load())
}

// Stats returns the worker's counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		ID:       w.ID,
		State:    w.GetState(),
		Ticks:    w.ticks.Load(),
		Written:  w.written.Load(),
		Failures: w.failures.Load(),
	}
}

// Run executes the paced generation loop until all ticks are done or the run
// is cancelled.
//
// The cancellation flag is checked at the start of every tick and before every
// write, so at most one write that was already in flight completes after the
// flag becomes visible. A failed write is logged and not counted.
func (w *Worker) Run(ctx context.Context, plan Plan, state *RunState, sink Sink) {
	w.state.Store(int32(WorkerStateRunning))
	defer w.state.Store(int32(WorkerStateStopped))

	for tick := 0; tick < plan.Ticks; tick++ {
		if state.Cancelled() {
			return
		}

		tickStart := w.now()
		w.writeBatch(ctx, plan, tick, state, sink)
		w.ticks.Add(1)

		if state.Cancelled() {
			return
		}

		// The last tick is paced too
		w.pace(plan.Tick-w.now().Sub(tickStart), state)
	}
}

func (w *Worker) writeBatch(ctx context.Context, plan Plan, tick int, state *RunState, sink Sink) {
	start := int64(tick) * int64(plan.BatchSize)
	var (
		failed  int
		lastErr error
	)

	for offset := 0; offset < plan.BatchSize; offset++ {
		if state.Cancelled() {
			break
		}

		record := NewRecord(plan.Measurement, w.ID, start+int64(offset), w.now().UnixMilli())
		if err := sink.WriteRecord(ctx, record); err != nil {
			failed++
			lastErr = err
			w.failures.Add(1)
			w.logger.WithError(err).Debug("write failed")
			continue
		}

		w.written.Add(1)
		state.RecordWrite()
	}

	if failed > 0 {
		w.logger.WithError(lastErr).WithField("tick", tick).Warnf("%d of %d writes failed", failed, plan.BatchSize)
	}
}

// pace sleeps for the remainder of the tick, waking early on cancellation.
func (w *Worker) pace(remaining time.Duration, state *RunState) {
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-state.Done():
	}
}
