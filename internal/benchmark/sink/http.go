package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
)

// HTTP posts raw line protocol to the InfluxDB write endpoints.
//
// HTTP_V1 targets /write with a database; HTTP_V2 targets /api/v2/write
// with an org, bucket and token. Every record is one request.
type HTTP struct {
	backend     string
	v2          bool
	writeURL    string
	baseURL     string
	database    string
	org         string
	bucket      string
	token       string
	compression string
	timeout     time.Duration

	client  *fasthttp.Client
	encoder *zstd.Encoder
	bufPool sync.Pool
	logger  log.FieldLogger
}

// NewHTTP creates a line-protocol HTTP sink for HTTP_V1 or HTTP_V2.
func NewHTTP(cfg config.SinkConfig, logger log.FieldLogger) (*HTTP, error) {
	base := strings.TrimRight(cfg.URL, "/")
	s := &HTTP{
		backend:     string(cfg.Type),
		v2:          cfg.Type == config.SinkHTTPV2,
		baseURL:     base,
		database:    cfg.Database,
		org:         cfg.Org,
		bucket:      cfg.Bucket,
		token:       cfg.Token,
		compression: cfg.Compression,
		timeout:     cfg.Timeout,
		client: &fasthttp.Client{
			Name:                "tsbench",
			MaxConnsPerHost:     4096,
			MaxConnWaitTimeout:  cfg.Timeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
		logger: logger,
	}
	s.bufPool.New = func() interface{} { return new(bytes.Buffer) }

	params := url.Values{}
	params.Set("precision", "ns")
	if s.v2 {
		params.Set("org", cfg.Org)
		params.Set("bucket", cfg.Bucket)
		s.writeURL = base + "/api/v2/write?" + params.Encode()
	} else {
		params.Set("db", cfg.Database)
		s.writeURL = base + "/write?" + params.Encode()
	}

	if cfg.Compression == config.CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, errors.Wrap(err, "create zstd encoder")
		}
		s.encoder = enc
	}
	return s, nil
}

func (s *HTTP) WriteRecord(ctx context.Context, r benchmark.Record) error {
	if err := ctx.Err(); err != nil {
		return &benchmark.WriteError{Backend: s.backend, Err: err}
	}

	line := r.AppendLineProtocol(nil)
	body, err := s.encode(line)
	if err != nil {
		return &benchmark.WriteError{Backend: s.backend, Err: err}
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.writeURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("text/plain; charset=utf-8")
	if s.compression != config.CompressionNone {
		req.Header.Set("Content-Encoding", s.compression)
	}
	s.authorize(req)
	req.SetBody(body)

	if err := s.client.DoTimeout(req, resp, s.timeout); err != nil {
		return &benchmark.WriteError{Backend: s.backend, Err: errors.Wrap(err, "post line protocol")}
	}
	if code := resp.StatusCode(); code != fasthttp.StatusNoContent && code != fasthttp.StatusOK {
		return &benchmark.WriteError{
			Backend: s.backend,
			Err:     errors.Errorf("unexpected status %d: %s", code, bytes.TrimSpace(resp.Body())),
		}
	}
	return nil
}

func (s *HTTP) encode(data []byte) ([]byte, error) {
	switch s.compression {
	case config.CompressionGzip:
		buf := s.bufPool.Get().(*bytes.Buffer)
		defer s.bufPool.Put(buf)
		buf.Reset()

		w, err := gzip.NewWriterLevel(buf, gzip.BestSpeed)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, errors.Wrap(err, "gzip body")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "gzip body")
		}
		return append([]byte(nil), buf.Bytes()...), nil
	case config.CompressionZstd:
		return s.encoder.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}

func (s *HTTP) authorize(req *fasthttp.Request) {
	if s.v2 && s.token != "" {
		req.Header.Set("Authorization", "Token "+s.token)
	}
}

func (s *HTTP) Finish(context.Context) error { return nil }

// CountPersisted queries the measurement count through the query endpoint
// of the matching InfluxDB version.
func (s *HTTP) CountPersisted(ctx context.Context, measurement string) (int64, error) {
	var (
		count int64
		err   error
	)
	if s.v2 {
		count, err = s.countV2(ctx, measurement)
	} else {
		count, err = s.countV1(measurement)
	}
	if err != nil {
		return 0, &benchmark.QueryError{Backend: s.backend, Measurement: measurement, Err: err}
	}
	return count, nil
}

func (s *HTTP) countV1(measurement string) (int64, error) {
	params := url.Values{}
	params.Set("db", s.database)
	params.Set("q", fmt.Sprintf("select count(*) from %q", measurement))

	body, err := s.do(fasthttp.MethodGet, s.baseURL+"/query?"+params.Encode(), "", nil)
	if err != nil {
		return 0, err
	}

	if msg := gjson.GetBytes(body, "results.0.error"); msg.Exists() {
		return 0, errors.New(msg.String())
	}
	value := gjson.GetBytes(body, "results.0.series.0.values.0.1")
	if !value.Exists() {
		return 0, nil
	}
	return value.Int(), nil
}

type fluxRequest struct {
	Query   string      `json:"query"`
	Type    string      `json:"type"`
	Dialect fluxDialect `json:"dialect"`
}

type fluxDialect struct {
	Header      bool     `json:"header"`
	Annotations []string `json:"annotations"`
}

func (s *HTTP) countV2(ctx context.Context, measurement string) (int64, error) {
	payload, err := json.Marshal(fluxRequest{
		Query:   countFlux(s.bucket, measurement),
		Type:    "flux",
		Dialect: fluxDialect{Header: true, Annotations: []string{}},
	})
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("org", s.org)
	body, err := s.do(fasthttp.MethodPost, s.baseURL+"/api/v2/query?"+params.Encode(), "application/json", payload)
	if err != nil {
		return 0, err
	}
	return sumCSVColumn(body, benchmark.FieldTemperature)
}

func (s *HTTP) do(method, uri, contentType string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	if contentType != "" {
		req.Header.SetContentType(contentType)
	}
	s.authorize(req)
	if body != nil {
		req.SetBody(body)
	}

	if err := s.client.DoTimeout(req, resp, s.timeout); err != nil {
		return nil, errors.Wrap(err, "query")
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, errors.Errorf("unexpected status %d: %s", resp.StatusCode(), bytes.TrimSpace(resp.Body()))
	}
	return append([]byte(nil), resp.Body()...), nil
}

func (s *HTTP) Close() error {
	s.client.CloseIdleConnections()
	if s.encoder != nil {
		return s.encoder.Close()
	}
	return nil
}

// sumCSVColumn sums column over every table of a header-only Flux CSV
// response. Multiple tables are separated by blank lines and repeat the
// header row.
func sumCSVColumn(body []byte, column string) (int64, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1

	var (
		total int64
		index = -1
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, "parse flux csv")
		}
		if idx := indexOf(row, column); idx >= 0 {
			index = idx
			continue
		}
		if index < 0 || index >= len(row) || row[index] == "" {
			continue
		}
		n, err := strconv.ParseInt(row[index], 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse %s", column)
		}
		total += n
	}
	return total, nil
}

func indexOf(row []string, value string) int {
	for i, v := range row {
		if v == value {
			return i
		}
	}
	return -1
}
