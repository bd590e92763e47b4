package benchmark

import (
	"sync"
	"sync/atomic"
)

// RunState is the state shared by all workers of a single run.
//
// The cancellation flag is set once by the orchestrator and read by every
// worker. The write counter is only ever incremented by workers and read by
// the orchestrator for reporting. A RunState must not be reused across runs.
type RunState struct {
	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once

	written atomic.Int64
}

// NewRunState creates the state for a new run.
func NewRunState() *RunState {
	return &RunState{done: make(chan struct{})}
}

// Cancel sets the cancellation flag. Only the first call has any effect and
// only that call returns true.
func (s *RunState) Cancel() bool {
	set := false
	s.once.Do(func() {
		s.cancelled.Store(true)
		close(s.done)
		set = true
	})
	return set
}

// Cancelled reports whether the run has been cancelled.
func (s *RunState) Cancelled() bool {
	return s.cancelled.Load()
}

// Done returns a channel that is closed when the run is cancelled.
func (s *RunState) Done() <-chan struct{} {
	return s.done
}

// RecordWrite counts one successfully written record.
func (s *RunState) RecordWrite() {
	s.written.Add(1)
}

// Written returns the number of records written so far.
func (s *RunState) Written() int64 {
	return s.written.Load()
}
