package sink

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
)

func sinkConfig(t config.SinkType, url string) config.SinkConfig {
	cfg := config.SinkConfig{Type: t, URL: url, Timeout: 5 * time.Second}
	cfg.ApplyDefaults()
	return cfg
}

func TestInfluxV1WritesEachRecord(t *testing.T) {
	server := newFakeInflux(t)
	s, err := NewInfluxV1(sinkConfig(config.SinkClientV1, server.URL), log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.WriteRecord(ctx, benchmark.NewRecord("sensor_1", 3, 42, 7)))
	require.NoError(t, s.WriteRecord(ctx, benchmark.NewRecord("sensor_1", 3, 43, 7)))
	require.NoError(t, s.Finish(ctx))

	assert.Equal(t, []string{
		"sensor_1,id=3 temperature=7i 42",
		"sensor_1,id=3 temperature=7i 43",
	}, server.Lines())

	req := server.Requests()[0]
	assert.Equal(t, "/write", req.URL.Path)
	assert.Equal(t, config.DefaultV1Database, req.URL.Query().Get("db"))
	assert.Equal(t, "ns", req.URL.Query().Get("precision"))
}

func TestInfluxV1OptimizedBatches(t *testing.T) {
	server := newFakeInflux(t)
	cfg := sinkConfig(config.SinkClientV1Optimized, server.URL)
	cfg.BatchSize = 4
	cfg.FlushInterval = time.Hour
	s, err := NewInfluxV1(cfg, log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.WriteRecord(ctx, benchmark.NewRecord("m", 0, int64(i), 1)))
	}
	assert.Len(t, server.Lines(), 8)
	assert.Len(t, server.Requests(), 2)

	require.NoError(t, s.Finish(ctx))
	assert.Len(t, server.Lines(), 10)
	assert.Len(t, server.Requests(), 3)
}

func TestInfluxV1WriteFailure(t *testing.T) {
	server := newFakeInflux(t)
	server.setWriteStatus(http.StatusBadRequest)
	s, err := NewInfluxV1(sinkConfig(config.SinkClientV1, server.URL), log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	err = s.WriteRecord(context.Background(), rec(1))
	var werr *benchmark.WriteError
	require.True(t, errors.As(err, &werr), "error = %v", err)
	assert.Equal(t, string(config.SinkClientV1), werr.Backend)
}

func TestInfluxV1OptimizedFinishReportsFlushError(t *testing.T) {
	server := newFakeInflux(t)
	cfg := sinkConfig(config.SinkClientV1Optimized, server.URL)
	cfg.FlushInterval = time.Hour
	s, err := NewInfluxV1(cfg, log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WriteRecord(context.Background(), rec(1)))
	server.setWriteStatus(http.StatusInternalServerError)

	err = s.Finish(context.Background())
	var ferr *benchmark.FlushError
	assert.True(t, errors.As(err, &ferr), "error = %v", err)
}

func TestInfluxV1CountPersisted(t *testing.T) {
	server := newFakeInflux(t)
	s, err := NewInfluxV1(sinkConfig(config.SinkClientV1, server.URL), log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	n, err := s.CountPersisted(context.Background(), "sensor_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "no series counts as zero")

	server.v1Count = "600000"
	n, err = s.CountPersisted(context.Background(), "sensor_1")
	require.NoError(t, err)
	assert.Equal(t, int64(600000), n)

	queries := server.Queries()
	require.NotEmpty(t, queries)
	assert.Equal(t, `select count(*) from "sensor_1"`, queries[len(queries)-1])
}

func TestInfluxV2BlockingWrites(t *testing.T) {
	server := newFakeInflux(t)
	s, err := NewInfluxV2(sinkConfig(config.SinkClientV2, server.URL), log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WriteRecord(context.Background(), benchmark.NewRecord("sensor_2", 1, 5, 9)))
	require.NoError(t, s.Finish(context.Background()))

	assert.Equal(t, []string{"sensor_2,id=1 temperature=9i 5"}, server.Lines())
	req := server.Requests()[0]
	assert.Equal(t, "/api/v2/write", req.URL.Path)
	assert.Equal(t, config.DefaultV2Org, req.URL.Query().Get("org"))
	assert.Equal(t, config.DefaultV2Bucket, req.URL.Query().Get("bucket"))
	assert.Equal(t, "Token "+config.DefaultV2Token, req.Header.Get("Authorization"))
}

func TestInfluxV2OptimizedFlushesOnFinish(t *testing.T) {
	server := newFakeInflux(t)
	cfg := sinkConfig(config.SinkClientV2Optimized, server.URL)
	cfg.BatchSize = 3
	cfg.FlushInterval = time.Hour
	s, err := NewInfluxV2(cfg, log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 7; i++ {
		require.NoError(t, s.WriteRecord(context.Background(), benchmark.NewRecord("m", 0, int64(i), 1)))
	}
	require.NoError(t, s.Finish(context.Background()))

	assert.Eventually(t, func() bool {
		return len(server.Lines()) == 7
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), s.FailedBatches())
}

func TestInfluxV2OptimizedFinishReportsFailedBatch(t *testing.T) {
	server := newFakeInflux(t)
	server.setWriteStatus(http.StatusBadRequest)

	for i := 0; i < 10; i++ {
		cfg := sinkConfig(config.SinkClientV2Optimized, server.URL)
		cfg.BatchSize = 100
		cfg.FlushInterval = time.Hour
		s, err := NewInfluxV2(cfg, log.StandardLogger())
		require.NoError(t, err)

		require.NoError(t, s.WriteRecord(context.Background(), benchmark.NewRecord("m", 0, int64(i), 1)))

		err = s.Finish(context.Background())
		var ferr *benchmark.FlushError
		require.True(t, errors.As(err, &ferr), "attempt %d: %v", i, err)
		assert.Equal(t, int64(1), s.FailedBatches())
		require.NoError(t, s.Close())
	}
}

func TestInfluxV2OptimizedWriteAfterClose(t *testing.T) {
	server := newFakeInflux(t)
	cfg := sinkConfig(config.SinkClientV2Optimized, server.URL)
	cfg.BatchSize = 1
	s, err := NewInfluxV2(cfg, log.StandardLogger())
	require.NoError(t, err)

	stop := make(chan struct{})
	writersDone := make(chan struct{})
	go func() {
		defer close(writersDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = s.WriteRecord(context.Background(), benchmark.NewRecord("m", 0, int64(i), 1))
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.WriteRecord(context.Background(), benchmark.NewRecord("m", 0, 0, 1))
	var werr *benchmark.WriteError
	require.True(t, errors.As(err, &werr))

	var ferr *benchmark.FlushError
	require.True(t, errors.As(s.Finish(context.Background()), &ferr))

	close(stop)
	<-writersDone
}

func TestInfluxV2CountPersisted(t *testing.T) {
	server := newFakeInflux(t)
	server.v2CSV = "#datatype,string,long,long\r\n" +
		"#group,false,false,false\r\n" +
		"#default,_result,,\r\n" +
		",result,table,temperature\r\n" +
		",,0,40\r\n" +
		",,1,2\r\n" +
		"\r\n"

	s, err := NewInfluxV2(sinkConfig(config.SinkClientV2, server.URL), log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	n, err := s.CountPersisted(context.Background(), "sensor_2")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	queries := server.Queries()
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], `r._measurement == \"sensor_2\"`)
	assert.Contains(t, queries[0], `count(column: \"temperature\")`)
}

func TestCountFlux(t *testing.T) {
	flux := countFlux("my-bucket", "sensor_1")
	assert.True(t, strings.HasPrefix(flux, `from(bucket: "my-bucket")`))
	assert.Contains(t, flux, `pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`)
	assert.Contains(t, flux, `drop(columns: ["id"])`)
}
