package sink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
)

// InfluxV2 writes through the InfluxDB 2.x client library.
//
// CLIENT_V2 uses the blocking write API, one request per record.
// CLIENT_V2_OPTIMIZED uses the asynchronous write API, which batches
// internally and reports failures on its error channel.
type InfluxV2 struct {
	backend string
	bucket  string
	client  influxdb2.Client
	query   api.QueryAPI

	blocking api.WriteAPIBlocking
	async    api.WriteAPI

	// mu guards closed; async writes hold it shared so Close cannot close
	// the client's buffer channel under them
	mu     sync.RWMutex
	closed bool

	asyncFailures atomic.Int64
	syncErrs      chan chan struct{}
	drainDone     chan struct{}
	logger        log.FieldLogger
}

// NewInfluxV2 creates an InfluxDB 2.x client sink.
func NewInfluxV2(cfg config.SinkConfig, logger log.FieldLogger) (*InfluxV2, error) {
	opts := influxdb2.DefaultOptions().
		SetPrecision(time.Nanosecond).
		SetUseGZip(cfg.Compression == config.CompressionGzip)
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds() + 0.5))
	}
	if cfg.Type == config.SinkClientV2Optimized {
		opts.SetBatchSize(uint(cfg.BatchSize))
		opts.SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	}

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	s := &InfluxV2{
		backend: string(cfg.Type),
		bucket:  cfg.Bucket,
		client:  c,
		query:   c.QueryAPI(cfg.Org),
		logger:  logger,
	}

	if cfg.Type == config.SinkClientV2Optimized {
		s.async = c.WriteAPI(cfg.Org, cfg.Bucket)
		s.syncErrs = make(chan chan struct{})
		s.drainDone = make(chan struct{})
		go s.drainErrors(s.async.Errors())
	} else {
		s.blocking = c.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	}
	return s, nil
}

// drainErrors counts asynchronous write failures until the error channel is
// closed. A request on syncErrs is answered once every error already queued
// has been counted.
func (s *InfluxV2) drainErrors(errs <-chan error) {
	defer close(s.drainDone)
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.recordAsyncError(err)
		case reply := <-s.syncErrs:
			if !s.drainPending(errs) {
				close(reply)
				return
			}
			close(reply)
		}
	}
}

// drainPending counts the queued errors without blocking. It returns false
// once errs is closed.
func (s *InfluxV2) drainPending(errs <-chan error) bool {
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return false
			}
			s.recordAsyncError(err)
		default:
			return true
		}
	}
}

func (s *InfluxV2) recordAsyncError(err error) {
	s.asyncFailures.Add(1)
	s.logger.WithError(err).WithField("sink", s.backend).Warn("asynchronous write failed")
}

// syncErrors waits until the drain goroutine has counted every queued error.
func (s *InfluxV2) syncErrors() {
	reply := make(chan struct{})
	select {
	case s.syncErrs <- reply:
		<-reply
	case <-s.drainDone:
	}
}

func (s *InfluxV2) WriteRecord(ctx context.Context, r benchmark.Record) error {
	point := influxdb2.NewPoint(r.Measurement, r.TagMap(), r.FieldMap(), r.Time())

	if s.async != nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return &benchmark.WriteError{Backend: s.backend, Err: errors.New("sink is closed")}
		}
		s.async.WritePoint(point)
		return nil
	}
	if err := s.blocking.WritePoint(ctx, point); err != nil {
		return &benchmark.WriteError{Backend: s.backend, Err: errors.Wrap(err, "write point")}
	}
	return nil
}

func (s *InfluxV2) Finish(context.Context) error {
	if s.async == nil {
		return nil
	}
	s.mu.RLock()
	closed := s.closed
	if !closed {
		s.async.Flush()
	}
	s.mu.RUnlock()
	if closed {
		return &benchmark.FlushError{Backend: s.backend, Err: errors.New("sink is closed")}
	}

	// Errors of the flushed batches are queued by the time Flush returns
	s.syncErrors()
	if n := s.asyncFailures.Load(); n > 0 {
		return &benchmark.FlushError{Backend: s.backend, Err: errors.Errorf("%d batch writes failed", n)}
	}
	return nil
}

// CountPersisted counts the temperature values of the measurement with Flux.
func (s *InfluxV2) CountPersisted(ctx context.Context, measurement string) (int64, error) {
	result, err := s.query.Query(ctx, countFlux(s.bucket, measurement))
	if err != nil {
		return 0, &benchmark.QueryError{Backend: s.backend, Measurement: measurement, Err: err}
	}
	defer result.Close()

	var total int64
	for result.Next() {
		n, err := toInt64(result.Record().ValueByKey(benchmark.FieldTemperature))
		if err != nil {
			return 0, &benchmark.QueryError{Backend: s.backend, Measurement: measurement, Err: err}
		}
		total += n
	}
	if err := result.Err(); err != nil {
		return 0, &benchmark.QueryError{Backend: s.backend, Measurement: measurement, Err: err}
	}
	return total, nil
}

// Close waits for in-flight writes, then closes the client. Later writes
// fail with a WriteError.
func (s *InfluxV2) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.Close()
	return nil
}

// FailedBatches returns the number of asynchronous batch writes that failed.
func (s *InfluxV2) FailedBatches() int64 { return s.asyncFailures.Load() }

// countFlux pivots fields into columns and counts the temperature column.
func countFlux(bucket, measurement string) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: 0, stop: now())
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> drop(columns: ["id"])
  |> count(column: %q)`, bucket, measurement, benchmark.FieldTemperature)
}
