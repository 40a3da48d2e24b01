// Package resilience provides a circuit breaker for calls to a flaky
// upstream.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/WessleyAI/threadwatch/pkg/fn"
)

// Circuit breaker states.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripping, reject calls
	StateHalfOpen              // allowing a probe call
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before entering half-open.
	Timeout time.Duration
	// HalfOpenMax is the number of probe calls allowed in half-open state.
	HalfOpenMax int
	// OnStateChange is called, without the lock held, after a transition.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts provides sensible defaults.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker implements a circuit breaker with closed/open/half-open states.
// A nil *Breaker lets every call through.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time // for testing
}

// NewBreaker creates a circuit breaker with the given options.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// currentState returns state, transitioning open→half-open if timeout
// elapsed. The second value reports the previous state when a transition
// happened. Must hold mu.
func (b *Breaker) currentState() (State, *State) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		prev := b.state
		b.state = StateHalfOpen
		b.halfOpenCount = 0
		return b.state, &prev
	}
	return b.state, nil
}

// acquire reports whether a call may proceed. On rejection it also returns
// how long until the breaker may admit one.
func (b *Breaker) acquire() (time.Duration, error) {
	b.mu.Lock()
	st, prev := b.currentState()
	var (
		err   error
		after time.Duration
	)
	switch st {
	case StateOpen:
		err = ErrCircuitOpen
		after = b.opts.Timeout - b.now().Sub(b.openedAt)
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			err = ErrCircuitOpen
			after = halfOpenPoll
			if b.opts.Timeout < after {
				after = b.opts.Timeout
			}
		} else {
			b.halfOpenCount++
		}
	}
	b.mu.Unlock()
	if prev != nil {
		b.notify(*prev, st)
	}
	return after, err
}

// halfOpenPoll is how often a waiter rechecks a half-open breaker whose
// trial calls are all in flight.
const halfOpenPoll = 100 * time.Millisecond

// wait blocks until acquire admits a call or ctx is done.
func (b *Breaker) wait(ctx context.Context) error {
	for {
		after, err := b.acquire()
		if err == nil {
			return nil
		}
		if after <= 0 {
			continue
		}
		t := time.NewTimer(after)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// release records the outcome of a call admitted by acquire.
func (b *Breaker) release(failed bool) {
	b.mu.Lock()
	from := b.state
	if failed {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.halfOpenCount = 0
		}
	} else {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
}

// WaitResult runs f once the breaker admits it, blocking while the breaker
// is open. Only ctx ends the wait early, in which case ctx's error is
// returned and f is not called.
func WaitResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if b == nil {
		return f(ctx)
	}
	if err := b.wait(ctx); err != nil {
		return fn.Err[T](err)
	}
	result := f(ctx)
	b.release(result.IsErr())
	return result
}
