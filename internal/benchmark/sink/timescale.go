package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
)

// Timescale inserts each record as a row of a PostgreSQL table, promoted to
// a TimescaleDB hypertable when the extension is available.
type Timescale struct {
	backend string
	table   string
	pool    *pgxpool.Pool
	logger  log.FieldLogger

	insertSQL string
	countSQL  string
}

// NewTimescale connects to the database and prepares the target table.
func NewTimescale(ctx context.Context, cfg config.SinkConfig, logger log.FieldLogger) (*Timescale, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse dsn")
	}
	if cfg.Timeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.Timeout
	}

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}

	table := pgx.Identifier{cfg.Table}.Sanitize()
	s := &Timescale{
		backend:   string(cfg.Type),
		table:     cfg.Table,
		pool:      pool,
		logger:    logger,
		insertSQL: fmt.Sprintf("INSERT INTO %s (time, measurement, worker_id, temperature) VALUES ($1, $2, $3, $4)", table),
		countSQL:  fmt.Sprintf("SELECT count(*) FROM %s WHERE measurement = $1", table),
	}

	if err := s.createTable(ctx, table); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Timescale) createTable(ctx context.Context, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	time        TIMESTAMPTZ NOT NULL,
	measurement TEXT        NOT NULL,
	worker_id   INTEGER     NOT NULL,
	temperature BIGINT
)`, table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return errors.Wrapf(err, "create table %s", s.table)
	}

	if _, err := s.pool.Exec(ctx, "SELECT create_hypertable($1, 'time', if_not_exists => TRUE)", s.table); err != nil {
		s.logger.WithError(err).WithField("table", s.table).Debug("table left as a plain postgres table")
	}
	return nil
}

func (s *Timescale) WriteRecord(ctx context.Context, r benchmark.Record) error {
	workerID := 0
	if v, ok := r.Tag(benchmark.TagWorkerID); ok {
		workerID, _ = strconv.Atoi(v)
	}
	temperature := r.FieldMap()[benchmark.FieldTemperature]

	if _, err := s.pool.Exec(ctx, s.insertSQL, r.Time(), r.Measurement, workerID, temperature); err != nil {
		return &benchmark.WriteError{Backend: s.backend, Err: errors.Wrap(err, "insert row")}
	}
	return nil
}

func (s *Timescale) Finish(context.Context) error { return nil }

func (s *Timescale) CountPersisted(ctx context.Context, measurement string) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, s.countSQL, measurement).Scan(&count); err != nil {
		return 0, &benchmark.QueryError{Backend: s.backend, Measurement: measurement, Err: err}
	}
	return count, nil
}

func (s *Timescale) Close() error {
	s.pool.Close()
	return nil
}
