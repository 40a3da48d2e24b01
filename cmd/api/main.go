// Package main implements the threadwatch job API: submit a list of thread
// URLs, poll progress, download the result table.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"github.com/WessleyAI/threadwatch/engine/batch"
	"github.com/WessleyAI/threadwatch/engine/fetch"
	"github.com/WessleyAI/threadwatch/engine/table"
	"github.com/WessleyAI/threadwatch/pkg/config"
	"github.com/WessleyAI/threadwatch/pkg/metrics"
	"github.com/WessleyAI/threadwatch/pkg/mid"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	fs := pflag.NewFlagSet("threadwatch-api", pflag.ExitOnError)
	config.RegisterFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	reg.CollectRuntime(ctx, "threadwatch", 15*time.Second)
	m := batch.NewMetrics(reg)

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

	// Jobs outlive the request that started them but not the process.
	jobs := newJobStore(ctx, proc, logger)

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("threadwatch-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		jobs.events = func(id string) batch.ProgressSink {
			return batch.NATSSink{Conn: nc, Subject: cfg.NATSSubject, JobID: id}
		}
		logger.Info("publishing progress", "nats", cfg.NATSURL, "subject", cfg.NATSSubject)
	}

	a := &api{jobs: jobs, log: logger, column: cfg.URLColumn, write: cfg.WriteOpts()}
	handler := mid.Chain(a.routes(reg),
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("threadwatch-api"),
	)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutCtx)
	// ctx is done here, so running jobs are already winding down.
	jobs.wait()
	return err
}

// maxBody caps a submitted URL list.
const maxBody = 8 << 20

type api struct {
	jobs   *jobStore
	log    *slog.Logger
	column string
	write  table.WriteOpts
}

func (a *api) routes(reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/jobs", a.handleSubmit)
	mux.HandleFunc("GET /api/jobs/{id}", a.handleStatus)
	mux.HandleFunc("GET /api/jobs/{id}/rows.csv", a.handleRows)
	mux.HandleFunc("DELETE /api/jobs/{id}", a.handleCancel)
	mux.Handle("GET /metrics", reg.Handler())
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SubmitRequest is the JSON body for POST /api/jobs.
type SubmitRequest struct {
	URLs []string `json:"urls"`
}

// SubmitResponse is returned when a job is accepted.
type SubmitResponse struct {
	TaskID string `json:"taskId"`
}

// handleSubmit accepts either {"urls": [...]} or a CSV body (text/csv)
// with a URL column.
func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBody)

	var urls []string
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "text/csv":
		col := r.URL.Query().Get("column")
		if col == "" {
			col = a.column
		}
		got, err := table.ReadURLs(body, col)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		urls = got
	default:
		var req SubmitRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		urls = req.URLs
	}
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}

	id := a.jobs.start(urls)
	w.Header().Set("Location", "/api/jobs/"+id)
	writeJSON(w, http.StatusAccepted, SubmitResponse{TaskID: id})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	j, ok := a.jobs.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j.status())
}

func (a *api) handleRows(w http.ResponseWriter, r *http.Request) {
	j, ok := a.jobs.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	rows, done := j.result()
	if !done {
		writeError(w, http.StatusConflict, "job still running")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="threadwatch-`+j.id+`.csv"`)
	if err := table.WriteRows(w, rows, a.write); err != nil {
		a.log.Error("write rows", "task_id", j.id, "err", err)
	}
}

func (a *api) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !a.jobs.cancel(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
