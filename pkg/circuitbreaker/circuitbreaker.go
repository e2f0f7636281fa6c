// Package circuitbreaker stops calling an optional dependency (Redis) after
// repeated failures, so callers fall back to the ledger instead of waiting
// on timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of the breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down passes.
	StateOpen
	// StateHalfOpen lets a single trial call through.
	StateHalfOpen
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

// ErrOpen is returned without calling the dependency while the breaker is
// open or a half-open trial call is already in flight.
var ErrOpen = errors.New("circuit breaker is open")

// Settings configure a breaker. Zero values take the defaults noted.
type Settings struct {
	Name string

	// Failures is the run of consecutive failures that opens the breaker (5).
	Failures int

	// CoolDown is how long the breaker stays open before a trial call (30s).
	CoolDown time.Duration

	// OnStateChange observes every transition. It runs under the breaker's
	// lock and must not call back into it.
	OnStateChange func(name string, from, to State)

	// Now is the time source (time.Now).
	Now func() time.Time
}

// CircuitBreaker is a consecutive-failure breaker with a single half-open
// trial call. A successful trial closes it, a failed one reopens it.
type CircuitBreaker struct {
	settings Settings

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trialing  bool
}

// New creates a closed breaker.
func New(s Settings) *CircuitBreaker {
	if s.Failures <= 0 {
		s.Failures = 5
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &CircuitBreaker{settings: s}
}

// Redis returns the breaker used in front of Redis. Redis only holds
// rebuildable copies of ledger data, so it opens after three failures and
// tries again after fifteen seconds.
func Redis(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:          "redis-" + name,
		Failures:      3,
		CoolDown:      15 * time.Second,
		OnStateChange: onStateChange,
	})
}

// Execute calls fn unless the breaker is open. A cancelled caller context
// is not held against the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		return ErrOpen
	}
	err := fn(ctx)
	cb.record(err == nil || errors.Is(err, context.Canceled))
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.settings.Now().Sub(cb.openedAt) < cb.settings.CoolDown {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.trialing = true
		return true
	case StateHalfOpen:
		if cb.trialing {
			return false
		}
		cb.trialing = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialing = false
	if ok {
		cb.failures = 0
		cb.transition(StateClosed)
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.settings.Failures {
		cb.openedAt = cb.settings.Now()
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if to != StateOpen {
		cb.failures = 0
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}
