package fn

import (
	"context"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	// Fixed keeps every sleep at InitialWait instead of doubling.
	Fixed bool
	// Retryable decides whether a failure is worth another attempt.
	// Nil retries every failure.
	Retryable func(error) bool
	// OnRetry is called before sleeping, with the 1-based attempt that failed.
	OnRetry func(attempt int, err error)
}

// RetryCount calls f until it succeeds, a failure is not retryable, or
// MaxAttempts is reached. It returns the last Result and the number of
// attempts made.
func RetryCount[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) (Result[T], int) {
	var result Result[T]
	wait := opts.InitialWait
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	attempt := 0
	for attempt < opts.MaxAttempts {
		attempt++
		result = f(ctx)
		if result.IsOk() {
			return result, attempt
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if opts.Retryable != nil && !opts.Retryable(result.err) {
			break
		}
		if ctx.Err() != nil {
			return Err[T](ctx.Err()), attempt
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, result.err)
		}

		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return Err[T](ctx.Err()), attempt
			case <-t.C:
			}
		}

		if !opts.Fixed {
			wait *= 2
		}
	}
	return result, attempt
}
