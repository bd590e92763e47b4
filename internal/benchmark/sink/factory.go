// Package sink implements the storage backends a benchmark run can target.
package sink

import (
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
)

// Description describes a sink type for listings.
type Description struct {
	Type        config.SinkType
	Name        string
	Description string
	UseCases    []string
}

var descriptions = []Description{
	{
		Type:        config.SinkNull,
		Name:        "Null",
		Description: "Discards every record.",
		UseCases:    []string{"Generator throughput ceiling", "Scheduler overhead"},
	},
	{
		Type:        config.SinkMemory,
		Name:        "Memory",
		Description: "Counts records per measurement in process memory.",
		UseCases:    []string{"Dry runs", "Checking the expected count end to end"},
	},
	{
		Type:        config.SinkClientV1,
		Name:        "InfluxDB 1.x client",
		Description: "InfluxDB 1.x client library, one write per record.",
		UseCases:    []string{"Per-point write latency on 1.x"},
	},
	{
		Type:        config.SinkClientV1Optimized,
		Name:        "InfluxDB 1.x client, batched",
		Description: "InfluxDB 1.x client library with size and interval batching.",
		UseCases:    []string{"Peak ingest rate on 1.x"},
	},
	{
		Type:        config.SinkHTTPV1,
		Name:        "InfluxDB 1.x HTTP",
		Description: "Raw line protocol posted to /write, optionally gzip or zstd compressed.",
		UseCases:    []string{"Client library overhead comparison", "Compression cost"},
	},
	{
		Type:        config.SinkClientV2,
		Name:        "InfluxDB 2.x client",
		Description: "InfluxDB 2.x client library, blocking write API.",
		UseCases:    []string{"Per-point write latency on 2.x"},
	},
	{
		Type:        config.SinkClientV2Optimized,
		Name:        "InfluxDB 2.x client, asynchronous",
		Description: "InfluxDB 2.x client library, asynchronous batching write API.",
		UseCases:    []string{"Peak ingest rate on 2.x"},
	},
	{
		Type:        config.SinkHTTPV2,
		Name:        "InfluxDB 2.x HTTP",
		Description: "Raw line protocol posted to /api/v2/write with token auth.",
		UseCases:    []string{"Client library overhead comparison", "Compression cost"},
	},
	{
		Type:        config.SinkTimescale,
		Name:        "TimescaleDB",
		Description: "One INSERT per record into a TimescaleDB or PostgreSQL table.",
		UseCases:    []string{"Comparing InfluxDB with a relational time-series store"},
	},
}

// SupportedTypes returns every sink type the factory can build.
func SupportedTypes() []config.SinkType {
	types := make([]config.SinkType, len(descriptions))
	for i, d := range descriptions {
		types[i] = d.Type
	}
	return types
}

// IsValidType reports whether the factory can build t.
func IsValidType(t config.SinkType) bool {
	_, ok := Describe(t)
	return ok
}

// Describe returns the description of t.
func Describe(t config.SinkType) (Description, bool) {
	for _, d := range descriptions {
		if d.Type == t {
			return d, true
		}
	}
	return Description{}, false
}

// New creates the sink selected by cfg. Connection defaults are applied to a
// copy of cfg first.
func New(ctx context.Context, cfg config.SinkConfig, logger log.FieldLogger) (benchmark.Sink, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg.ApplyDefaults()
	logger = logger.WithField("sink", string(cfg.Type))

	switch cfg.Type {
	case config.SinkNull:
		return NewNull(), nil
	case config.SinkMemory:
		return NewMemory(), nil
	case config.SinkClientV1, config.SinkClientV1Optimized:
		return NewInfluxV1(cfg, logger)
	case config.SinkHTTPV1, config.SinkHTTPV2:
		return NewHTTP(cfg, logger)
	case config.SinkClientV2, config.SinkClientV2Optimized:
		return NewInfluxV2(cfg, logger)
	case config.SinkTimescale:
		return NewTimescale(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Type)
	}
}

// Close releases the resources of s if it holds any.
func Close(s benchmark.Sink) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
