// Package resilience provides reliability patterns for calls to external
// stores and services.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the position of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker implements a circuit breaker for a single dependency. It opens
// after maxFailures consecutive failures, rejects calls for timeout, then
// lets a single probe through in half-open state.
type Breaker struct {
	name        string
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	probing     bool
	ignore      func(error) bool
	log         *slog.Logger
	now         func() time.Time // for testing
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithName labels the breaker in logs.
func WithName(name string) Option {
	return func(b *Breaker) { b.name = name }
}

// WithLogger logs state changes to l.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.log = l }
}

// WithIgnore excludes errors for which fn returns true from the failure
// count, for example not-found results.
func WithIgnore(fn func(error) bool) Option {
	return func(b *Breaker) { b.ignore = fn }
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(maxFailures int, timeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:        "default",
		maxFailures: maxFailures,
		timeout:     timeout,
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Execute runs fn if the circuit allows it.
// Returns ErrCircuitOpen without calling fn if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	probe, ok := b.allowRequest()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}

	if err != nil && (b.ignore == nil || !b.ignore(err)) {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return err
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allowRequest() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false, false
		}
		b.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	}
	return false, false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.setState(StateClosed)
}

// setState must be called with b.mu held.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	prev := b.state
	b.state = s
	level := slog.LevelInfo
	if s == StateOpen {
		level = slog.LevelWarn
	}
	b.log.Log(context.Background(), level, "circuit breaker state change",
		"breaker", b.name, "from", prev.String(), "to", s.String(), "failures", b.failures)
}
