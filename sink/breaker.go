package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/domsig/report"
)

// ErrCircuitOpen is returned by a Breaker while its sink is considered down.
type ErrCircuitOpen struct {
	Sink string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("sink: circuit open for %s", e.Sink)
}

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // deliveries pass through
	BreakerOpen                         // deliveries rejected immediately
	BreakerHalfOpen                     // one trial delivery tests recovery
)

// Breaker wraps a Sink and stops calling it after repeated failures, so an
// unreachable webhook does not stall every check with its retry schedule.
type Breaker struct {
	next Sink
	name string

	mu           sync.Mutex
	state        BreakerState
	failures     int
	successes    int
	threshold    int
	resetTimeout time.Duration
	halfOpenMax  int
	lastFailure  time.Time
	now          func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerThreshold sets the consecutive failures that open the breaker. Default: 5.
func WithBreakerThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.threshold = n }
}

// WithBreakerResetTimeout sets how long the breaker stays open before
// letting a trial delivery through. Default: 1m.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.resetTimeout = d }
}

// WithBreakerHalfOpenMax sets the successes needed to close from half-open. Default: 1.
func WithBreakerHalfOpenMax(n int) BreakerOption {
	return func(b *Breaker) { b.halfOpenMax = n }
}

// WithBreakerClock sets the clock (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = fn }
}

// NewBreaker wraps next. name identifies the sink in errors.
func NewBreaker(next Sink, name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		next:         next,
		name:         name,
		threshold:    5,
		resetTimeout: time.Minute,
		halfOpenMax:  1,
		now:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) SendReport(ctx context.Context, r report.Report) error {
	return b.call(func() error { return b.next.SendReport(ctx, r) })
}

func (b *Breaker) SendDelta(ctx context.Context, d report.Delta) error {
	return b.call(func() error { return b.next.SendDelta(ctx, d) })
}

func (b *Breaker) Close() error { return b.next.Close() }

func (b *Breaker) call(fn func() error) error {
	b.mu.Lock()
	b.maybeHalfOpen()
	if b.state == BreakerOpen {
		b.mu.Unlock()
		return &ErrCircuitOpen{Sink: b.name}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.lastFailure = b.now()
		switch b.state {
		case BreakerClosed:
			b.failures++
			if b.failures >= b.threshold {
				b.state = BreakerOpen
			}
		case BreakerHalfOpen:
			b.state = BreakerOpen
			b.successes = 0
		}
		return err
	}
	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.halfOpenMax {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	case BreakerClosed:
		b.failures = 0
	}
	return nil
}

// maybeHalfOpen must be called with mu held.
func (b *Breaker) maybeHalfOpen() {
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
}
