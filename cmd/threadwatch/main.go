// Command threadwatch reads a CSV of thread URLs, snapshots the recent
// reply activity of each thread and writes the result table as CSV. With
// --schedule it keeps running and re-takes the snapshot on a cron spec.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"github.com/WessleyAI/threadwatch/engine/batch"
	"github.com/WessleyAI/threadwatch/engine/domain"
	"github.com/WessleyAI/threadwatch/engine/fetch"
	"github.com/WessleyAI/threadwatch/engine/table"
	"github.com/WessleyAI/threadwatch/pkg/config"
	"github.com/WessleyAI/threadwatch/pkg/metrics"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	fs := pflag.NewFlagSet("threadwatch", pflag.ExitOnError)
	in := fs.StringP("in", "i", "-", "input CSV with a URL column, - for stdin")
	out := fs.StringP("out", "o", "-", "output CSV, - for stdout")
	config.RegisterFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *in, *out, logger); err != nil {
		logger.Error("threadwatch failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, in, out string, logger *slog.Logger) error {
	reg := metrics.New()
	m := batch.NewMetrics(reg)
	if cfg.MetricsPort > 0 {
		reg.CollectRuntime(ctx, "threadwatch", 15*time.Second)
		reg.ServeAsync(ctx, fmt.Sprintf(":%d", cfg.MetricsPort), logger)
		logger.Info("serving metrics", "port", cfg.MetricsPort)
	}

	fc := cfg.FetchConfig()
	fc.Log = logger
	fc.OnAttempt = m.ObserveAttempt
	fetcher, err := fetch.New(fc)
	if err != nil {
		return fmt.Errorf("fetcher: %w", err)
	}
	proc, err := batch.New(batch.Deps{Fetcher: fetcher, Logger: logger, Metrics: m}, cfg.BatchOptions())
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	sinks := batch.MultiSink{batch.LogSink{Log: logger}}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("threadwatch"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		sinks = append(sinks, batch.NATSSink{Conn: nc, Subject: cfg.NATSSubject})
		logger.Info("publishing progress", "nats", cfg.NATSURL, "subject", cfg.NATSSubject)
	}

	r := &runner{proc: proc, sink: sinks, log: logger, column: cfg.URLColumn, write: cfg.WriteOpts(), in: in, out: out}

	if cfg.Schedule == "" {
		return r.once(ctx)
	}
	return r.schedule(ctx, cfg.Schedule)
}

// runner takes one snapshot per call to once.
type runner struct {
	proc   *batch.Processor
	sink   batch.ProgressSink
	log    *slog.Logger
	column string
	write  table.WriteOpts
	in     string
	out    string
}

func (r *runner) once(ctx context.Context) error {
	urls, err := readInput(r.in, r.column)
	if err != nil {
		return err
	}
	r.log.Info(fmt.Sprintf("Processing %d URLs", len(urls)))

	rows, err := r.proc.ProcessBatch(ctx, urls, r.sink)
	if err != nil && !errors.Is(err, domain.ErrBatchCancelled) {
		return err
	}
	// A cancelled batch still has a full table; write it before reporting.
	if werr := writeOutput(r.out, rows, r.write); werr != nil {
		return werr
	}
	return err
}

// schedule runs once immediately, then on every tick of spec until ctx is
// done. Overlapping runs are skipped.
func (r *runner) schedule(ctx context.Context, spec string) error {
	c := cron.New(
		cron.WithLogger(cron.PrintfLogger(slog.NewLogLogger(r.log.Handler(), slog.LevelInfo))),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	job := func() {
		if err := r.once(ctx); err != nil {
			r.log.Error("scheduled run failed", "err", err)
		}
	}
	if _, err := c.AddFunc(spec, job); err != nil {
		return domain.NewValidationError("schedule", spec, fmt.Errorf("%w: %v", domain.ErrInvalidOption, err))
	}

	job()
	c.Start()
	r.log.Info("schedule started", "spec", spec)

	<-ctx.Done()
	r.log.Info("shutting down")
	<-c.Stop().Done()
	return nil
}

func readInput(path, column string) ([]string, error) {
	if path == "" || path == "-" {
		return table.ReadURLs(os.Stdin, column)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return table.ReadURLs(f, column)
}

// writeOutput writes rows to path through a temp file and rename, so a
// reader never sees a half-written table.
func writeOutput(path string, rows []domain.Row, opts table.WriteOpts) error {
	if path == "" || path == "-" {
		return table.WriteRows(os.Stdout, rows, opts)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".threadwatch-*.csv")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeTo(tmp, rows, opts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace output: %w", err)
	}
	return nil
}

func writeTo(w io.Writer, rows []domain.Row, opts table.WriteOpts) error {
	if err := table.WriteRows(w, rows, opts); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
