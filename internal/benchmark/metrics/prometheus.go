package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const MetricPrefix = "tsbench_"

// Collectors mirrors engine observations as Prometheus metrics.
type Collectors struct {
	RecordsWritten prometheus.Counter
	WriteFailures  prometheus.Counter
	WriteLatency   prometheus.Histogram
	ActiveWorkers  prometheus.Gauge

	registry *prometheus.Registry
}

// NewCollectors creates the run collectors and registers them on a private
// registry.
func NewCollectors() *Collectors {
	c := &Collectors{
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "records_written_total",
			Help: "Total number of records accepted by the sink",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "write_failures_total",
			Help: "Total number of record writes that failed",
		}),
		WriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricPrefix + "write_latency_seconds",
			Help:    "Latency of a single record write call",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 12),
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPrefix + "active_workers",
			Help: "Number of workers currently generating load",
		}),
		registry: prometheus.NewRegistry(),
	}

	c.registry.MustRegister(c.RecordsWritten, c.WriteFailures, c.WriteLatency, c.ActiveWorkers)
	return c
}

func (c *Collectors) observe(d time.Duration, success bool) {
	c.WriteLatency.Observe(d.Seconds())
	if success {
		c.RecordsWritten.Inc()
	} else {
		c.WriteFailures.Inc()
	}
}

// Registry returns the registry the collectors are registered on.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the collectors.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes the collectors on addr under /metrics until ctx is done.
func (c *Collectors) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", listener.Addr().String()).Info("serving metrics")
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	return nil
}
