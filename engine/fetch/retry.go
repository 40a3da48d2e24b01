package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/threadwatch/engine/domain"
	"github.com/WessleyAI/threadwatch/pkg/fn"
	"github.com/WessleyAI/threadwatch/pkg/resilience"
)

// RetryPolicy is shared by both backends.
type RetryPolicy struct {
	MaxAttempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// Timeout bounds a single attempt. Zero disables it.
	Timeout time.Duration
	// RateLimit paces attempts across all URLs, in requests per second.
	// Zero disables pacing.
	RateLimit float64
	RateBurst int
	// BreakerThreshold consecutive failures open the shared breaker for
	// BreakerTimeout. Zero disables the breaker. While open, attempts wait
	// for it rather than fail, so no URL spends its budget on rejections.
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// DefaultRetryPolicy matches the historical scraper: three attempts two
// seconds apart.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Delay:       2 * time.Second,
	Timeout:     30 * time.Second,
}

// Retrying wraps a Fetcher with the retry policy.
type Retrying struct {
	next    Fetcher
	policy  RetryPolicy
	limiter *rate.Limiter
	breaker *resilience.Breaker

	// OnAttempt, when set, observes every attempt.
	OnAttempt func(url string, attempt int, err error)
	// Log defaults to slog.Default().
	Log *slog.Logger
}

// NewRetrying wraps next. The limiter and breaker are shared by every URL
// passed through the returned fetcher.
func NewRetrying(next Fetcher, p RetryPolicy) *Retrying {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	r := &Retrying{next: next, policy: p, Log: slog.Default()}
	if p.RateLimit > 0 {
		burst := p.RateBurst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(p.RateLimit), burst)
	}
	if p.BreakerThreshold > 0 {
		r.breaker = resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: p.BreakerThreshold,
			Timeout:       p.BreakerTimeout,
			OnStateChange: func(from, to resilience.State) {
				r.Log.Warn("circuit breaker changed state", "from", from, "to", to)
			},
		})
	}
	return r
}

// Fetch tries up to MaxAttempts times, waiting Delay between attempts.
// Only transient failures are retried. When the budget runs out the last
// failure is returned inside a *domain.FetchError. Any other failure is
// logged and reported as a thread with no comments.
func (r *Retrying) Fetch(ctx context.Context, url string) (domain.Snapshot, error) {
	attempt := 0
	res, attempts := fn.RetryCount(ctx, fn.RetryOpts{
		MaxAttempts: r.policy.MaxAttempts,
		InitialWait: r.policy.Delay,
		Fixed:       true,
		Retryable:   retryable,
		OnRetry: func(n int, err error) {
			r.Log.Debug("retrying fetch", "url", url, "attempt", n, "err", err)
		},
	}, func(ctx context.Context) fn.Result[domain.Snapshot] {
		attempt++
		res := r.attempt(ctx, url)
		if r.OnAttempt != nil {
			r.OnAttempt(url, attempt, res.Error())
		}
		return res
	})

	snap, err := res.Unwrap()
	if err == nil {
		return snap, nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return domain.Snapshot{}, err
	}
	if !retryable(err) {
		r.Log.Warn("fetch failed, treating as no comments", "url", url, "err", err)
		return domain.NoComments(url), nil
	}
	return domain.Snapshot{}, &domain.FetchError{URL: url, Attempts: attempts, Err: err}
}

func (r *Retrying) attempt(ctx context.Context, url string) fn.Result[domain.Snapshot] {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fn.Err[domain.Snapshot](err)
		}
	}
	return resilience.WaitResult(r.breaker, ctx, func(ctx context.Context) fn.Result[domain.Snapshot] {
		if r.policy.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
			defer cancel()
		}
		snap, err := r.next.Fetch(ctx, url)
		return fn.FromPair(snap, err)
	})
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrTransient)
}
