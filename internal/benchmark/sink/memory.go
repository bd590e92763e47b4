package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
)

// ErrFinished is returned when a record is written after Finish.
var ErrFinished = errors.New("sink already finished")

// Memory counts records per measurement in process memory.
type Memory struct {
	mu          sync.Mutex
	counts      map[string]int64
	finishCalls int
	countCalls  int
}

// NewMemory creates an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{counts: make(map[string]int64)}
}

func (s *Memory) WriteRecord(_ context.Context, r benchmark.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishCalls > 0 {
		return &benchmark.WriteError{Backend: "memory", Err: ErrFinished}
	}
	s.counts[r.Measurement]++
	return nil
}

func (s *Memory) Finish(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishCalls++
	return nil
}

func (s *Memory) CountPersisted(_ context.Context, measurement string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	return s.counts[measurement], nil
}

// FinishCalls returns how many times Finish was called.
func (s *Memory) FinishCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishCalls
}

// CountCalls returns how many times CountPersisted was called.
func (s *Memory) CountCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countCalls
}
