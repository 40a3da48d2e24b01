// Command progress-tail prints the progress events threadwatch publishes to
// NATS, one line per event.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"github.com/WessleyAI/threadwatch/engine/batch"
	"github.com/WessleyAI/threadwatch/pkg/natsutil"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	natsURL := pflag.String("nats-url", nats.DefaultURL, "NATS server to read from")
	subject := pflag.String("subject", batch.DefaultProgressSubject, "progress subject")
	job := pflag.String("job", "", "only show events for this job ID")
	exit := pflag.Bool("exit-on-done", false, "exit after the first final event")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(*natsURL, nats.Name("progress-tail"))
	if err != nil {
		logger.Error("nats connect", "url", *natsURL, "err", err)
		os.Exit(1)
	}
	defer nc.Close()

	if err := tail(ctx, nc, *subject, filter{job: *job, exitOnDone: *exit}, os.Stdout); err != nil {
		logger.Error("tail failed", "err", err)
		os.Exit(1)
	}
}

type filter struct {
	job        string
	exitOnDone bool
}

// tail writes matching events to w until ctx is done or, with exitOnDone,
// a final event arrives.
func tail(ctx context.Context, nc *nats.Conn, subject string, f filter, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan batch.ProgressEvent, 64)
	sub, err := natsutil.Subscribe(nc, subject, func(_ context.Context, ev batch.ProgressEvent) {
		if f.job != "" && ev.JobID != f.job {
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			fmt.Fprintln(w, format(ev))
			if ev.Done && f.exitOnDone {
				return nil
			}
		}
	}
}

func format(ev batch.ProgressEvent) string {
	line := fmt.Sprintf("[%3d%%] %s", ev.Percent, ev.Message)
	if ev.JobID != "" {
		line = ev.JobID + " " + line
	}
	if ev.Error != "" {
		line += " (" + ev.Error + ")"
	}
	return line
}
