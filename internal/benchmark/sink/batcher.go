package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
)

// FlushFunc delivers one batch of records to a backend.
type FlushFunc func(ctx context.Context, records []benchmark.Record) error

// Batcher buffers records and hands them to a FlushFunc once size records
// are pending or every interval, whichever comes first.
//
// A size-triggered flush runs on the goroutine of the Add that filled the
// buffer. Interval flushes run on the batcher's own goroutine.
type Batcher struct {
	size    int
	flushFn FlushFunc
	logger  log.FieldLogger

	mu  sync.Mutex
	buf []benchmark.Record

	flushed atomic.Int64
	dropped atomic.Int64

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewBatcher starts a batcher. An interval of zero disables timed flushes.
func NewBatcher(size int, interval time.Duration, flush FlushFunc, logger log.FieldLogger) *Batcher {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	b := &Batcher{
		size:    size,
		flushFn: flush,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if interval > 0 {
		go b.run(interval)
	} else {
		close(b.doneCh)
	}
	return b
}

// Add buffers r, flushing synchronously when the buffer reaches its size.
func (b *Batcher) Add(ctx context.Context, r benchmark.Record) error {
	b.mu.Lock()
	b.buf = append(b.buf, r)
	var batch []benchmark.Record
	if len(b.buf) >= b.size {
		batch = b.buf
		b.buf = nil
	}
	b.mu.Unlock()

	return b.flush(ctx, batch)
}

// Flush delivers whatever is currently buffered.
func (b *Batcher) Flush(ctx context.Context) error {
	return b.flush(ctx, b.take())
}

// Close stops timed flushes and delivers the remaining records.
func (b *Batcher) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
	return b.Flush(ctx)
}

// Pending returns the number of buffered records.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Flushed returns the number of records delivered successfully.
func (b *Batcher) Flushed() int64 { return b.flushed.Load() }

// Dropped returns the number of records lost to failed flushes.
func (b *Batcher) Dropped() int64 { return b.dropped.Load() }

func (b *Batcher) take() []benchmark.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.buf
	b.buf = nil
	return batch
}

func (b *Batcher) flush(ctx context.Context, batch []benchmark.Record) error {
	if len(batch) == 0 {
		return nil
	}
	if err := b.flushFn(ctx, batch); err != nil {
		b.dropped.Add(int64(len(batch)))
		b.logger.WithError(err).WithField("records", len(batch)).Warn("batch flush failed")
		return err
	}
	b.flushed.Add(int64(len(batch)))
	return nil
}

func (b *Batcher) run(interval time.Duration) {
	defer close(b.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			_ = b.Flush(context.Background())
		}
	}
}
