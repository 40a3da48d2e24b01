package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/threadwatch/engine/batch"
	"github.com/WessleyAI/threadwatch/engine/domain"
)

// runner is the part of batch.Processor the job store drives.
type runner interface {
	ProcessBatch(ctx context.Context, urls []string, sink batch.ProgressSink) ([]domain.Row, error)
}

// job is one background batch. Jobs live in memory only.
type job struct {
	id      string
	created time.Time
	cancel  context.CancelFunc

	mu       sync.Mutex
	progress domain.Progress
	rows     []domain.Row
}

// JobStatus is the JSON view of a job.
type JobStatus struct {
	TaskID    string `json:"taskId"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	OutputURL string `json:"outputUrl,omitempty"`
}

func (j *job) status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{
		TaskID:    j.id,
		Progress:  j.progress.Percent,
		Message:   j.progress.Message,
		Done:      j.progress.Done,
		Error:     j.progress.Error,
		Completed: j.progress.Completed,
		Total:     j.progress.Total,
	}
	if st.Done {
		st.OutputURL = "/api/jobs/" + j.id + "/rows.csv"
	}
	return st
}

// result returns the rows once the job is done.
func (j *job) result() ([]domain.Row, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rows, j.progress.Done
}

func (j *job) Report(_ context.Context, p domain.Progress) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	// Done is set by finish, once the rows are stored.
	p.Done = false
	j.progress = p
	return nil
}

func (j *job) finish(rows []domain.Row, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows = rows
	j.progress.Done = true
	if err != nil && j.progress.Error == "" {
		j.progress.Error = err.Error()
	}
}

// jobStore runs batches in the background and keeps their results.
type jobStore struct {
	base   context.Context
	run    runner
	events func(id string) batch.ProgressSink
	log    *slog.Logger
	ttl    time.Duration

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

func newJobStore(base context.Context, r runner, log *slog.Logger) *jobStore {
	return &jobStore{base: base, run: r, log: log, ttl: 24 * time.Hour, jobs: make(map[string]*job)}
}

// start launches a batch for urls and returns its task ID.
func (s *jobStore) start(urls []string) string {
	ctx, cancel := context.WithCancel(s.base)
	j := &job{
		id:       uuid.NewString(),
		created:  time.Now(),
		cancel:   cancel,
		progress: domain.Progress{Message: "Queued", Total: len(urls)},
	}

	s.mu.Lock()
	s.evictLocked()
	s.jobs[j.id] = j
	s.mu.Unlock()

	var sink batch.ProgressSink = j
	if s.events != nil {
		sink = batch.MultiSink{j, s.events(j.id)}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.log.Info("job started", "task_id", j.id, "urls", len(urls))
		rows, err := s.run.ProcessBatch(ctx, urls, sink)
		if err != nil && !errors.Is(err, domain.ErrBatchCancelled) {
			s.log.Error("job failed", "task_id", j.id, "err", err)
		}
		j.finish(rows, err)
		s.log.Info("job finished", "task_id", j.id, "rows", len(rows))
	}()
	return j.id
}

func (s *jobStore) get(id string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// cancel stops a running job. It reports false for an unknown ID.
func (s *jobStore) cancel(id string) bool {
	j, ok := s.get(id)
	if ok {
		j.cancel()
	}
	return ok
}

// evictLocked drops finished jobs older than the TTL. Must hold mu.
func (s *jobStore) evictLocked() {
	cutoff := time.Now().Add(-s.ttl)
	for id, j := range s.jobs {
		if _, done := j.result(); done && j.created.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

// wait blocks until every started job has finished.
func (s *jobStore) wait() { s.wg.Wait() }
