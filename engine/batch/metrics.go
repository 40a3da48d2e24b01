package batch

import (
	"github.com/WessleyAI/threadwatch/pkg/metrics"
)

// URL outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeNoComments = "no_comments"
	OutcomeFailed     = "failed"
	OutcomeCancelled  = "cancelled"
)

// Metrics are the batch and fetch instruments.
type Metrics struct {
	FetchAttempts *metrics.Counter
	FetchFailures *metrics.Counter
	Rows          *metrics.Counter
	TreeFaults    *metrics.Counter
	Inflight      *metrics.Gauge
	URLDuration   *metrics.Histogram
	BatchDuration *metrics.Histogram

	urls *metrics.CounterVec
}

// NewMetrics registers the instruments on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		FetchAttempts: reg.Counter("threadwatch_fetch_attempts_total", "Fetch attempts against the upstream"),
		FetchFailures: reg.Counter("threadwatch_fetch_failures_total", "Fetch attempts that failed"),
		Rows:          reg.Counter("threadwatch_rows_total", "Result rows emitted"),
		TreeFaults:    reg.Counter("threadwatch_tree_faults_total", "Comment nodes skipped while building trees"),
		Inflight:      reg.Gauge("threadwatch_pipelines_inflight", "URL pipelines currently running"),
		URLDuration:   reg.Histogram("threadwatch_url_duration_seconds", "Time to process one URL", nil),
		BatchDuration: reg.Histogram("threadwatch_batch_duration_seconds", "Time to process one batch",
			[]float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}),
		urls: reg.CounterVec("threadwatch_urls_total", "URLs processed by outcome", "outcome"),
	}
}

// URLs returns the per-outcome URL counter.
func (m *Metrics) URLs(outcome string) *metrics.Counter {
	return m.urls.With(outcome)
}

// ObserveAttempt matches fetch.Retrying's OnAttempt hook.
func (m *Metrics) ObserveAttempt(_ string, _ int, err error) {
	if m == nil {
		return
	}
	m.FetchAttempts.Inc()
	if err != nil {
		m.FetchFailures.Inc()
	}
}
