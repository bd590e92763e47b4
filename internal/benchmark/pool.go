package benchmark

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pool manages the workers of a single run.
//
// It provides:
// - Worker spawning with distinct ids in [0, n)
// - Active worker tracking
// - Bounded joining that reports abandoned workers instead of killing them
type Pool struct {
	workers []*Worker
	active  atomic.Int32

	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once

	logger log.FieldLogger
}

// NewPool creates an empty pool. A nil logger falls back to the standard logger.
func NewPool(logger log.FieldLogger) *Pool {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Pool{
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start spawns n workers, each running plan against sink with the shared state.
// Start must be called at most once per pool.
func (p *Pool) Start(ctx context.Context, n int, plan Plan, state *RunState, sink Sink) {
	p.workers = make([]*Worker, n)
	for i := 0; i < n; i++ {
		p.workers[i] = NewWorker(i, p.logger)
	}

	p.wg.Add(n)
	for _, w := range p.workers {
		p.active.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			defer p.active.Add(-1)
			w.Run(ctx, plan, state, sink)
		}(w)
	}

	go func() {
		p.wg.Wait()
		p.doneOnce.Do(func() { close(p.done) })
	}()
}

// Done returns a channel closed once every worker has returned.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Active returns the number of workers still running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Workers returns the pool's workers.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Wait blocks until every worker has returned or the timeout expires.
//
// Returns the ids of workers that were still running when it gave up, or nil
// if all workers finished in time.
func (p *Pool) Wait(timeout time.Duration) []int {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	var abandoned []int
	for _, w := range p.workers {
		if w.GetState() != WorkerStateStopped {
			abandoned = append(abandoned, w.ID)
		}
	}
	return abandoned
}

// Failures returns the total number of failed writes across all workers.
func (p *Pool) Failures() int64 {
	var total int64
	for _, w := range p.workers {
		total += w.failures.Load()
	}
	return total
}

// Stats returns per-worker statistics.
func (p *Pool) Stats() []WorkerStats {
	stats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.Stats()
	}
	return stats
}
