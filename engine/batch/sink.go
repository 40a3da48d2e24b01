package batch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/WessleyAI/threadwatch/engine/domain"
	"github.com/WessleyAI/threadwatch/pkg/natsutil"
)

// DefaultProgressSubject is the NATS subject progress events go to.
const DefaultProgressSubject = "threadwatch.progress"

// ProgressSink receives progress notifications. Reports for one batch are
// delivered one at a time, in order.
type ProgressSink interface {
	Report(ctx context.Context, p domain.Progress) error
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ctx context.Context, p domain.Progress) error

func (f SinkFunc) Report(ctx context.Context, p domain.Progress) error { return f(ctx, p) }

// LogSink writes progress to a structured logger.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Report(ctx context.Context, p domain.Progress) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"percent", p.Percent, "done", p.Done, "completed", p.Completed, "total", p.Total}
	if p.Error != "" {
		log.WarnContext(ctx, p.Message, append(attrs, "error", p.Error)...)
		return nil
	}
	log.InfoContext(ctx, p.Message, attrs...)
	return nil
}

// NATSSink publishes each notification as JSON. Trace context travels in
// the message headers.
type NATSSink struct {
	Conn    natsutil.Conn
	Subject string
	// JobID, when set, is attached so several batches can share a subject.
	JobID string
}

// ProgressEvent is the payload NATSSink publishes.
type ProgressEvent struct {
	JobID string `json:"jobId,omitempty"`
	domain.Progress
}

func (s NATSSink) Report(ctx context.Context, p domain.Progress) error {
	subject := s.Subject
	if subject == "" {
		subject = DefaultProgressSubject
	}
	return natsutil.Publish(ctx, s.Conn, subject, ProgressEvent{JobID: s.JobID, Progress: p})
}

// MultiSink fans a notification out to every sink and joins their errors.
type MultiSink []ProgressSink

func (m MultiSink) Report(ctx context.Context, p domain.Progress) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Report(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
