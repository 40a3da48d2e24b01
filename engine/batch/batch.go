// Package batch runs the per-URL pipeline (fetch, build, project) across a
// list of thread URLs with bounded concurrency and reports progress.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/threadwatch/engine/domain"
	"github.com/WessleyAI/threadwatch/engine/fetch"
	"github.com/WessleyAI/threadwatch/engine/thread"
	"github.com/WessleyAI/threadwatch/pkg/fn"
)

// DefaultConcurrency caps simultaneous URL pipelines when unset.
const DefaultConcurrency = 50

// Options are the per-batch settings.
type Options struct {
	Policy      domain.Policy
	Concurrency int
}

// DefaultOptions mirrors the historical scraper.
var DefaultOptions = Options{Policy: domain.DefaultPolicy, Concurrency: DefaultConcurrency}

// Deps holds the collaborators of a Processor.
type Deps struct {
	Fetcher fetch.Fetcher
	Logger  *slog.Logger
	// Metrics is optional.
	Metrics *Metrics
	// Now is the clock the recency threshold is taken from.
	Now func() time.Time
}

// Processor runs batches. One Processor may run several batches, one after
// another or at once.
type Processor struct {
	fetcher fetch.Fetcher
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
	opts    Options
}

// New validates opts and builds a Processor.
func New(deps Deps, opts Options) (*Processor, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("batch: nil fetcher")
	}
	if err := domain.ValidatePolicy(opts.Policy); err != nil {
		return nil, err
	}
	if err := domain.ValidateAtLeast("concurrency", opts.Concurrency, 1); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Processor{
		fetcher: deps.Fetcher,
		log:     deps.Logger,
		metrics: deps.Metrics,
		now:     deps.Now,
		opts:    opts,
	}, nil
}

// built pairs a snapshot with its tree between the build and project stages.
type built struct {
	snap domain.Snapshot
	tree *thread.Tree
}

// ProcessBatch runs every URL through the pipeline with at most
// Concurrency pipelines in flight, and returns the rows flattened in input
// order. A URL whose fetch fails for good contributes one error row; it
// never aborts the batch.
//
// When ctx is cancelled no further URLs are started. Those URLs, and any
// in-flight URL abandoned by the cancellation, get an "Error: batch
// cancelled" row, and the full table is returned with
// domain.ErrBatchCancelled.
func (p *Processor) ProcessBatch(ctx context.Context, urls []string, sink ProgressSink) ([]domain.Row, error) {
	start := time.Now()
	total := len(urls)
	p.log.Info("processing batch", "urls", total, "concurrency", p.opts.Concurrency)

	projector := thread.NewProjector(p.opts.Policy, thread.Threshold(p.now(), p.opts.Policy.RecencyDays))
	pipeline := p.pipeline(projector)
	acc := NewAccumulator(total)

	report := func(pr domain.Progress) {
		if sink == nil {
			return
		}
		if err := sink.Report(ctx, pr); err != nil {
			p.log.Warn("progress report failed", "err", err)
		}
	}

	progress := newProgressQueue(total, func(done int) {
		report(domain.Progress{
			Percent:   percent(done, total),
			Message:   fmt.Sprintf("Processed %d / %d URLs", done, total),
			Completed: done,
			Total:     total,
		})
	})

	var abandoned atomic.Int32
	skipped := fn.ParEach(ctx, total, p.opts.Concurrency, func(ctx context.Context, i int) {
		rows, outcome := p.runOne(ctx, pipeline, projector, urls[i])
		if outcome == OutcomeCancelled {
			abandoned.Add(1)
		}
		p.count(outcome, len(rows))
		progress.push(acc.Put(i, rows))
	})
	progress.close()

	for _, i := range skipped {
		rows := []domain.Row{projector.ErrorRow(urls[i], domain.ErrBatchCancelled)}
		p.count(OutcomeCancelled, len(rows))
		acc.Put(i, rows)
	}

	if p.metrics != nil {
		p.metrics.BatchDuration.Since(start)
	}
	rows := acc.Rows()

	if len(skipped) > 0 || abandoned.Load() > 0 {
		p.log.Warn("batch cancelled", "urls", total, "skipped", len(skipped), "rows", len(rows))
		report(domain.Progress{
			Percent:   percent(total-len(skipped), total),
			Message:   fmt.Sprintf("Cancelled: %d / %d URLs processed", total-len(skipped), total),
			Done:      true,
			Error:     domain.ErrBatchCancelled.Error(),
			Completed: total - len(skipped),
			Total:     total,
		})
		return rows, domain.ErrBatchCancelled
	}

	p.log.Info("batch complete", "urls", total, "rows", len(rows), "duration", time.Since(start))
	report(domain.Progress{
		Percent:   100,
		Message:   fmt.Sprintf("Completed: %d URLs, %d rows", total, len(rows)),
		Done:      true,
		Completed: total,
		Total:     total,
	})
	return rows, nil
}

// pipeline composes fetch, build and project as traced stages.
func (p *Processor) pipeline(projector thread.Projector) fn.Stage[string, []domain.Row] {
	fetchStage := fn.TracedStage[string, domain.Snapshot]("threadwatch.fetch", func(ctx context.Context, url string) fn.Result[domain.Snapshot] {
		snap, err := p.fetcher.Fetch(ctx, url)
		if err != nil {
			return fn.Err[domain.Snapshot](err)
		}
		if snap.URL == "" {
			snap.URL = url
		}
		return fn.Ok(snap)
	})

	buildStage := fn.TracedStage[domain.Snapshot, built]("threadwatch.build", func(ctx context.Context, snap domain.Snapshot) fn.Result[built] {
		tree := thread.Build(snap.PostID, snap.Comments)
		for _, f := range tree.Faults() {
			p.log.WarnContext(ctx, "skipped comment", "url", snap.URL, "comment", f.ID, "reason", f.Reason)
		}
		if p.metrics != nil {
			p.metrics.TreeFaults.Add(int64(len(tree.Faults())))
		}
		return fn.Ok(built{snap: snap, tree: tree})
	})

	projectStage := fn.TracedStage("threadwatch.project", fn.MapStage(func(b built) []domain.Row {
		return projector.Project(b.snap, b.tree)
	}), attribute.Int("threadwatch.max_roots", projector.MaxRoots))

	return fn.Then(fetchStage, fn.Then(buildStage, projectStage))
}

// runOne runs the pipeline for a single URL and turns any failure into a
// sentinel row.
func (p *Processor) runOne(ctx context.Context, pipeline fn.Stage[string, []domain.Row], projector thread.Projector, url string) ([]domain.Row, string) {
	if p.metrics != nil {
		p.metrics.Inflight.Inc()
		defer p.metrics.Inflight.Dec()
		defer p.metrics.URLDuration.Since(time.Now())
	}

	rows, err := pipeline(ctx, url).Unwrap()
	switch {
	case err == nil:
		if len(rows) == 1 && rows[0].Parent == domain.NoCommentsText {
			return rows, OutcomeNoComments
		}
		return rows, OutcomeOK
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		p.log.Warn("url abandoned", "url", url, "err", err)
		return []domain.Row{projector.ErrorRow(url, domain.ErrBatchCancelled)}, OutcomeCancelled
	default:
		p.log.Error("fetch failed", "url", url, "err", err)
		return []domain.Row{projector.ErrorRow(url, err)}, OutcomeFailed
	}
}

func (p *Processor) count(outcome string, rows int) {
	if p.metrics == nil {
		return
	}
	p.metrics.URLs(outcome).Inc()
	p.metrics.Rows.Add(int64(rows))
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return done * 100 / total
}
