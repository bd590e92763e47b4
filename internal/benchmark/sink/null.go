package sink

import (
	"context"
	"sync/atomic"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
)

// Null discards every record. It measures the generator alone.
type Null struct {
	accepted atomic.Int64
}

// NewNull creates a Null sink.
func NewNull() *Null {
	return &Null{}
}

func (s *Null) WriteRecord(context.Context, benchmark.Record) error {
	s.accepted.Add(1)
	return nil
}

func (s *Null) Finish(context.Context) error { return nil }

// CountPersisted always fails: nothing is persisted.
func (s *Null) CountPersisted(context.Context, string) (int64, error) {
	return 0, benchmark.ErrCountUnsupported
}

// Accepted returns the number of records discarded so far.
func (s *Null) Accepted() int64 { return s.accepted.Load() }
