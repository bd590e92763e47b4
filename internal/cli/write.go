package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
	"github.com/wesleyorama2/tsbench/internal/benchmark/engine"
	"github.com/wesleyorama2/tsbench/internal/benchmark/metrics"
	"github.com/wesleyorama2/tsbench/internal/benchmark/output"
	"github.com/wesleyorama2/tsbench/internal/benchmark/report"
	"github.com/wesleyorama2/tsbench/internal/benchmark/sink"
)

// writeOptions are the flags of the write command that are not part of the
// benchmark configuration.
type writeOptions struct {
	output         string
	format         string
	quiet          bool
	noColor        bool
	metricsAddr    string
	updateInterval time.Duration

	// newSink replaces sink.New in tests
	newSink func(ctx context.Context, cfg config.SinkConfig, logger log.FieldLogger) (benchmark.Sink, error)
}

func newWriteCmd(global *globalOptions) *cobra.Command {
	opts := &writeOptions{newSink: sink.New}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Run a write benchmark against a storage backend",
		Long: `Spawn threadsCount writers. Each writer generates lineProtocolsCount records
per tick for secondsCount ticks, and sends each record to the selected backend.
After the writers stop, the backend is asked how many records it persisted.

Examples:
  tsbench write --type CLIENT_V2 --threadsCount 2000 --secondsCount 30 --lineProtocolsCount 100
  tsbench write --type HTTP_V1 --url http://localhost:8086 --compress gzip
  tsbench write --config bench.yaml --output results.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, global, opts)
		},
	}

	flags := cmd.Flags()

	// Load shape
	flags.String("type", string(config.SinkClientV2), fmt.Sprintf("Backend sink type: %v", config.SinkTypes()))
	flags.Int("threadsCount", config.DefaultWorkerCount, "how many writers run concurrently")
	flags.Int("secondsCount", config.DefaultDurationSeconds, "how many ticks each writer runs")
	flags.Int("lineProtocolsCount", config.DefaultBatchSize, "how many records each writer generates per tick")
	flags.String("measurementName", "", "measurement to write to (default: sensor_<unix nanos>)")
	flags.Bool("skipCount", false, "skip counting persisted records")

	// Connection
	flags.String("url", "", "backend URL (default depends on --type)")
	flags.String("database", "", "InfluxDB 1.x database")
	flags.String("org", "", "InfluxDB 2.x organization")
	flags.String("bucket", "", "InfluxDB 2.x bucket")
	flags.String("token", "", "InfluxDB 2.x API token")
	flags.String("dsn", "", "PostgreSQL connection string for TIMESCALE")
	flags.String("table", "", "table for TIMESCALE")
	flags.String("compress", "", "HTTP body compression: gzip or zstd")
	flags.Int("batch-size", 0, "records buffered by the optimized sinks before a flush")
	flags.Duration("flush-interval", 0, "flush interval of the optimized sinks")
	flags.Duration("sink-timeout", 0, "timeout of each backend request and of the final flush")

	// Run timing
	flags.Duration("tick", 0, "pacing interval between batches (default 1s)")
	flags.Duration("join-timeout", 0, "how long to wait for writers after the deadline")
	flags.Duration("settle", 0, "wait before counting persisted records (default 500ms)")

	// Output
	flags.StringVarP(&opts.output, "output", "o", "", "write a results report to this file (- for stdout)")
	flags.StringVar(&opts.format, "format", "", "report format: json, yaml, html (default: from --output extension, else json)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "disable the banner and live progress, print a one-line summary")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run (e.g. :9100)")
	flags.DurationVar(&opts.updateInterval, "update-interval", time.Second, "live progress refresh interval")

	return cmd
}

func runWrite(cmd *cobra.Command, global *globalOptions, opts *writeOptions) error {
	cfg, err := loadConfig(global, cmd.Flags())
	if err != nil {
		return err
	}

	format, err := reportFormat(opts.format, opts.output)
	if err != nil {
		return config.NewConfigError(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.StandardLogger()

	runnerOpts := []engine.Option{engine.WithLogger(logger)}
	if opts.metricsAddr != "" {
		collectors := metrics.NewCollectors()
		runnerOpts = append(runnerOpts, engine.WithCollectors(collectors))

		// The endpoint shuts down when ctx is cancelled on return
		if err := collectors.Serve(ctx, opts.metricsAddr); err != nil {
			return config.NewConfigError(fmt.Errorf("failed to serve metrics on %s: %w", opts.metricsAddr, err))
		}
	}

	s, err := opts.newSink(ctx, cfg.Sink, logger)
	if err != nil {
		return config.NewConfigError(fmt.Errorf("failed to create %s sink: %w", cfg.Sink.Type, err))
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   opts.quiet,
		NoColor: opts.noColor,
	})
	console.PrintHeader(cfg)

	runner := engine.NewRunner(runnerOpts...)
	result, err := runWithProgress(ctx, runner, cfg, s, console, opts)
	if err != nil {
		if cerr := sink.Close(s); cerr != nil {
			logger.WithError(cerr).Warn("closing sink failed")
		}
		return err
	}

	console.PrintSummary(result)

	if opts.output != "" {
		if err := report.Write(opts.output, format, result, cfg); err != nil {
			logger.WithError(err).Error("failed to write report")
		} else if opts.output != "-" {
			logger.WithField("file", opts.output).Info("report written")
		}
	}
	return nil
}

// runWithProgress runs the benchmark and refreshes the console until it ends.
func runWithProgress(ctx context.Context, runner *engine.Runner, cfg *config.BenchmarkConfig, s benchmark.Sink, console *output.ConsoleOutput, opts *writeOptions) (*engine.RunResult, error) {
	var (
		wg     sync.WaitGroup
		result *engine.RunResult
		runErr error
	)
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		result, runErr = runner.Run(ctx, cfg, s)
	}()

	interval := opts.updateInterval
	if interval <= 0 {
		interval = time.Second
	}
	updateTicker := time.NewTicker(interval)
	defer updateTicker.Stop()

progressLoop:
	for {
		select {
		case <-done:
			break progressLoop
		case <-updateTicker.C:
			if !runner.IsRunning() {
				continue
			}
			stats := output.StatsFromMetrics(runner.Metrics(), runner.Progress(), cfg)
			if console.IsTTY() {
				console.Update(stats)
			} else if !opts.quiet {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}

	wg.Wait()
	return result, runErr
}

// reportFormat picks the report format from the flag or the file extension.
func reportFormat(flag, path string) (report.Format, error) {
	if flag != "" {
		return report.ParseFormat(flag)
	}
	switch ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext {
	case "yaml", "yml", "html":
		return report.ParseFormat(ext)
	default:
		return report.FormatJSON, nil
	}
}
