// Package circuitbreaker provides a per-key circuit breaker with
// closed → open → half-open state transitions. It guards the calls on and
// around the decision path that can degrade: model inference and the
// outbound event sinks.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/mbd888/fraudgate/internal/metrics"
)

// ErrOpen is returned by Execute when the circuit rejects the call.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
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

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per key and trips open when they
// reach the threshold. After openDuration the circuit moves to half-open
// and admits a single probe.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
	now          func() time.Time
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// WithClock overrides the time source (tests).
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// Allow returns true if a request to key should be allowed.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}

	switch e.state {
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.openDuration {
			b.transition(e, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false // probe in flight
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, key, StateClosed)
	}
	e.failures = 0
}

// RecordFailure counts a failure; a failed probe reopens the circuit.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}

	e.failures++
	e.lastFailure = b.now()

	switch {
	case e.state == StateHalfOpen:
		b.transition(e, key, StateOpen)
	case e.state == StateClosed && e.failures >= b.threshold:
		b.transition(e, key, StateOpen)
	}
}

// Execute runs fn if the circuit for key allows it and records the outcome.
func (b *Breaker) Execute(key string, fn func() error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return nil
}

// State returns the current state for a key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return StateClosed
	}
	return e.state
}

// transition changes state and records it. Caller must hold b.mu.
func (b *Breaker) transition(e *entry, key string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	metrics.CircuitBreakerTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	metrics.CircuitBreakerState.WithLabelValues(key).Set(float64(to))
}
