// Package resilience guards calls to backing stores that may be down.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Breaker opens after a run of consecutive failures and rejects calls until
// the timeout elapses; the next call then probes the backend (half-open).
// Errors for which the classifier returns false do not count as failures.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	now         func() time.Time

	onChange func(from, to State)
	counts   func(error) bool
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// OnStateChange registers fn to be called, without the lock held, on every
// transition.
func OnStateChange(fn func(from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// CountIf restricts failures to errors for which fn returns true.
func CountIf(fn func(error) bool) BreakerOption {
	return func(b *Breaker) { b.counts = fn }
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and stays open for timeout.
func NewBreaker(maxFailures int, timeout time.Duration, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		state:       Closed,
		maxFailures: max(maxFailures, 1),
		timeout:     timeout,
		now:         time.Now,
		counts:      func(error) bool { return true },
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	return b.Do(context.Background(), func(context.Context) error { return fn() })
}

// Do runs fn with ctx unless the circuit is open. A cancelled context is
// not a backend failure.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)

	b.mu.Lock()
	from := b.state
	switch {
	case err == nil:
		b.failures = 0
		b.state = Closed
	case errors.Is(err, context.Canceled) || !b.counts(err):
		if b.state == HalfOpen {
			b.state = Closed
		}
	default:
		b.failures++
		if b.state == HalfOpen || b.failures >= b.maxFailures {
			b.state = Open
			b.openedAt = b.now()
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	from := b.state
	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.timeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = HalfOpen
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return nil
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
