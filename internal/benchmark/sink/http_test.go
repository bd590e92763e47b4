package sink

import (
	"context"
	"errors"
	"net/http"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
)

func TestHTTPSinkWritesLineProtocol(t *testing.T) {
	tests := []struct {
		name        string
		sinkType    config.SinkType
		compression string
		path        string
	}{
		{"v1 plain", config.SinkHTTPV1, config.CompressionNone, "/write"},
		{"v1 gzip", config.SinkHTTPV1, config.CompressionGzip, "/write"},
		{"v2 plain", config.SinkHTTPV2, config.CompressionNone, "/api/v2/write"},
		{"v2 zstd", config.SinkHTTPV2, config.CompressionZstd, "/api/v2/write"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFakeInflux(t)
			cfg := sinkConfig(tt.sinkType, server.URL)
			cfg.Compression = tt.compression

			s, err := NewHTTP(cfg, log.StandardLogger())
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			require.NoError(t, s.WriteRecord(ctx, benchmark.NewRecord("sensor_3", 2, 100, 11)))
			require.NoError(t, s.WriteRecord(ctx, benchmark.NewRecord("sensor_3", 2, 101, 11)))
			require.NoError(t, s.Finish(ctx))

			assert.Equal(t, []string{
				"sensor_3,id=2 temperature=11i 100",
				"sensor_3,id=2 temperature=11i 101",
			}, server.Lines())
			assert.Equal(t, []string{tt.compression, tt.compression}, server.Encodings())

			req := server.Requests()[0]
			assert.Equal(t, tt.path, req.URL.Path)
			assert.Equal(t, "ns", req.URL.Query().Get("precision"))
			if tt.sinkType == config.SinkHTTPV2 {
				assert.Equal(t, config.DefaultV2Bucket, req.URL.Query().Get("bucket"))
				assert.Equal(t, "Token "+config.DefaultV2Token, req.Header.Get("Authorization"))
			} else {
				assert.Equal(t, config.DefaultV1Database, req.URL.Query().Get("db"))
				assert.Empty(t, req.Header.Get("Authorization"))
			}
		})
	}
}

func TestHTTPSinkRejectedWrite(t *testing.T) {
	server := newFakeInflux(t)
	server.setWriteStatus(http.StatusUnauthorized)

	s, err := NewHTTP(sinkConfig(config.SinkHTTPV2, server.URL), log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	err = s.WriteRecord(context.Background(), rec(1))
	var werr *benchmark.WriteError
	require.True(t, errors.As(err, &werr), "error = %v", err)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTPSinkCancelledContext(t *testing.T) {
	server := newFakeInflux(t)
	s, err := NewHTTP(sinkConfig(config.SinkHTTPV1, server.URL), log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.WriteRecord(ctx, rec(1)))
	assert.Empty(t, server.Lines())
}

func TestHTTPSinkCountV1(t *testing.T) {
	server := newFakeInflux(t)
	server.v1Count = "1234"

	s, err := NewHTTP(sinkConfig(config.SinkHTTPV1, server.URL), log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	n, err := s.CountPersisted(context.Background(), "sensor_3")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)
	assert.Equal(t, []string{`select count(*) from "sensor_3"`}, server.Queries())
}

func TestHTTPSinkCountV2(t *testing.T) {
	server := newFakeInflux(t)
	server.v2CSV = ",result,table,temperature\r\n,_result,0,40\r\n\r\n,result,table,temperature\r\n,_result,1,2\r\n"

	s, err := NewHTTP(sinkConfig(config.SinkHTTPV2, server.URL), log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	n, err := s.CountPersisted(context.Background(), "sensor_3")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestHTTPSinkCountQueryError(t *testing.T) {
	s, err := NewHTTP(sinkConfig(config.SinkHTTPV1, "http://127.0.0.1:1"), log.StandardLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CountPersisted(context.Background(), "sensor_3")
	var qerr *benchmark.QueryError
	require.True(t, errors.As(err, &qerr), "error = %v", err)
	assert.Equal(t, "sensor_3", qerr.Measurement)
}

func TestSumCSVColumn(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int64
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"single table", ",result,table,temperature\n,_result,0,7\n", 7, false},
		{"no column", ",result,table,_value\n,_result,0,7\n", 0, false},
		{"bad value", ",result,table,temperature\n,_result,0,x\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sumCSVColumn([]byte(tt.body), "temperature")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
