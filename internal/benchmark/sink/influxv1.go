package sink

import (
	"context"
	"encoding/json"
	"fmt"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
)

// InfluxV1 writes through the InfluxDB 1.x HTTP client library.
//
// With a batcher attached (CLIENT_V1_OPTIMIZED) records are grouped into
// larger batch-point writes; otherwise each record is its own write.
type InfluxV1 struct {
	backend  string
	database string
	client   client.Client
	batcher  *Batcher
	logger   log.FieldLogger
}

// NewInfluxV1 creates an InfluxDB 1.x client sink.
func NewInfluxV1(cfg config.SinkConfig, logger log.FieldLogger) (*InfluxV1, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:      cfg.URL,
		UserAgent: "tsbench",
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create influxdb 1.x client")
	}

	s := &InfluxV1{
		backend:  string(cfg.Type),
		database: cfg.Database,
		client:   c,
		logger:   logger,
	}
	if cfg.Type == config.SinkClientV1Optimized {
		s.batcher = NewBatcher(cfg.BatchSize, cfg.FlushInterval, s.writePoints,
			logger.WithField("sink", s.backend))
	}
	return s, nil
}

func (s *InfluxV1) WriteRecord(ctx context.Context, r benchmark.Record) error {
	var err error
	if s.batcher != nil {
		err = s.batcher.Add(ctx, r)
	} else {
		err = s.writePoints(ctx, []benchmark.Record{r})
	}
	if err != nil {
		return &benchmark.WriteError{Backend: s.backend, Err: err}
	}
	return nil
}

func (s *InfluxV1) writePoints(_ context.Context, records []benchmark.Record) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  s.database,
		Precision: "ns",
	})
	if err != nil {
		return errors.Wrap(err, "create batch points")
	}

	for _, r := range records {
		pt, err := client.NewPoint(r.Measurement, r.TagMap(), r.FieldMap(), r.Time())
		if err != nil {
			return errors.Wrap(err, "create point")
		}
		bp.AddPoint(pt)
	}

	return errors.Wrapf(s.client.Write(bp), "write %d points", len(records))
}

func (s *InfluxV1) Finish(ctx context.Context) error {
	if s.batcher == nil {
		return nil
	}
	if err := s.batcher.Close(ctx); err != nil {
		return &benchmark.FlushError{Backend: s.backend, Err: err}
	}
	return nil
}

// CountPersisted runs `select count(*)` against the measurement.
func (s *InfluxV1) CountPersisted(_ context.Context, measurement string) (int64, error) {
	q := client.NewQuery(fmt.Sprintf("select count(*) from %q", measurement), s.database, "")
	resp, err := s.client.Query(q)
	if err == nil {
		err = resp.Error()
	}
	if err != nil {
		return 0, &benchmark.QueryError{Backend: s.backend, Measurement: measurement, Err: err}
	}

	count, err := firstCount(resp)
	if err != nil {
		return 0, &benchmark.QueryError{Backend: s.backend, Measurement: measurement, Err: err}
	}
	return count, nil
}

func (s *InfluxV1) Close() error {
	return s.client.Close()
}

// firstCount extracts the count of the first series. A measurement with no
// points returns no series and counts as zero.
func firstCount(resp *client.Response) (int64, error) {
	if len(resp.Results) == 0 || len(resp.Results[0].Series) == 0 {
		return 0, nil
	}
	values := resp.Results[0].Series[0].Values
	if len(values) == 0 || len(values[0]) < 2 {
		return 0, nil
	}
	return toInt64(values[0][1])
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		return int64(f), errors.Wrap(err, "parse count")
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, errors.Errorf("unexpected count value %v (%T)", v, v)
	}
}
