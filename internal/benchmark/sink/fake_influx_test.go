package sink

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// fakeInflux is an httptest server speaking enough of the InfluxDB 1.x and
// 2.x HTTP APIs to accept writes and answer count queries.
type fakeInflux struct {
	*httptest.Server

	mu        sync.Mutex
	lines     []string
	requests  []*http.Request
	encodings []string
	queries   []string

	writeStatus int
	v1Count     string
	v2CSV       string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{writeStatus: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Influxdb-Version", "1.8.10")

	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()

	switch r.URL.Path {
	case "/write", "/api/v2/write":
		f.mu.Lock()
		f.encodings = append(f.encodings, r.Header.Get("Content-Encoding"))
		scanner := bufio.NewScanner(bytes.NewReader(body))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				f.lines = append(f.lines, line)
			}
		}
		status := f.writeStatus
		f.mu.Unlock()
		if status != http.StatusNoContent {
			http.Error(w, `{"error":"write refused"}`, status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "/query":
		q := r.URL.Query().Get("q")
		if q == "" {
			form, _ := url.ParseQuery(string(body))
			q = form.Get("q")
		}
		f.mu.Lock()
		f.queries = append(f.queries, q)
		count := f.v1Count
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if count == "" {
			_, _ = io.WriteString(w, `{"results":[{"statement_id":0}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"results":[{"statement_id":0,"series":[{"name":"m","columns":["time","count_temperature"],"values":[["1970-01-01T00:00:00Z",`+count+`]]}]}]}`)
	case "/api/v2/query":
		f.mu.Lock()
		f.queries = append(f.queries, string(body))
		payload := f.v2CSV
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = io.WriteString(w, payload)
	default:
		http.NotFound(w, r)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(raw, nil)
	default:
		return raw, nil
	}
}

func (f *fakeInflux) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeInflux) Requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...)
}

func (f *fakeInflux) Encodings() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.encodings...)
}

func (f *fakeInflux) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *fakeInflux) setWriteStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeStatus = code
}
