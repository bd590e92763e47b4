package sink

import (
	"context"
	"io"
	"time"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
)

// Recorder observes the latency and outcome of write calls.
type Recorder interface {
	RecordWrite(d time.Duration, err error)
}

// Instrumented times every WriteRecord of the sink it wraps.
type Instrumented struct {
	inner    benchmark.Sink
	recorder Recorder
}

// Instrument wraps inner so that each write is reported to recorder.
func Instrument(inner benchmark.Sink, recorder Recorder) *Instrumented {
	return &Instrumented{inner: inner, recorder: recorder}
}

func (s *Instrumented) WriteRecord(ctx context.Context, r benchmark.Record) error {
	start := time.Now()
	err := s.inner.WriteRecord(ctx, r)
	s.recorder.RecordWrite(time.Since(start), err)
	return err
}

func (s *Instrumented) Finish(ctx context.Context) error {
	return s.inner.Finish(ctx)
}

func (s *Instrumented) CountPersisted(ctx context.Context, measurement string) (int64, error) {
	return s.inner.CountPersisted(ctx, measurement)
}

// Close closes the wrapped sink if it holds resources.
func (s *Instrumented) Close() error {
	if c, ok := s.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Unwrap returns the wrapped sink.
func (s *Instrumented) Unwrap() benchmark.Sink { return s.inner }
