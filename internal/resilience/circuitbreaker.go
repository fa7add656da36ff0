// Package resilience keeps the game playable when an LLM backend degrades.
//
// [CircuitBreaker] tracks consecutive failures against a single backend and
// stops sending it traffic once it is clearly down (closed → open → half-open).
// [FallbackGroup] chains several backends behind per-backend breakers so a
// narration request silently moves to the next healthy model instead of
// stalling the player's turn.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a [CircuitBreaker] operating mode.
type State int

const (
	// StateClosed forwards every call; the backend is considered healthy.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]; the backend tripped
	// the consecutive-failure limit and is resting until the reset timeout.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through after the
	// reset timeout; their outcome decides between closing and re-opening.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the protected backend in logs and state-change events.
	Name string

	// MaxFailures is how many consecutive closed-state failures trip the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker rests before probing the
	// backend again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax caps the probe calls allowed while half-open. Default: 3.
	HalfOpenMax int

	// Logger receives state-transition messages. Defaults to [slog.Default].
	Logger *slog.Logger

	// OnStateChange, when set, is invoked after every state transition with the
	// breaker's name and the old and new states. The hook runs under the
	// breaker's lock and must not call back into it.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	logger        *slog.Logger
	onStateChange func(name string, from, to State)

	mu            sync.Mutex
	state         State
	failStreak    int
	lastFailure   time.Time
	halfOpenCalls int
	halfOpenFails int
}

// NewCircuitBreaker creates a [CircuitBreaker], filling zero-value config
// fields with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		logger:        cfg.Logger,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

// transition moves the breaker to a new state and notifies observers.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State, msg string, attrs ...any) {
	from := cb.state
	cb.state = to
	attrs = append([]any{"name", cb.name}, attrs...)
	if to == StateOpen {
		cb.logger.Warn(msg, attrs...)
	} else {
		cb.logger.Info(msg, attrs...)
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// allow decides whether a call may proceed. It reports whether the call runs
// as a half-open probe, or [ErrCircuitOpen] when the breaker rejects it.
func (cb *CircuitBreaker) allow() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.halfOpenCalls = 0
		cb.halfOpenFails = 0
		cb.transition(StateHalfOpen, "circuit breaker probing backend")

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			// Probe budget spent, wait for an in-flight probe to decide.
			return false, ErrCircuitOpen
		}
	}

	// Probe accounting happens before the call so concurrent probes share
	// the budget.
	if cb.state == StateHalfOpen {
		cb.halfOpenCalls++
		return true, nil
	}
	return false, nil
}

// Execute runs fn if the breaker allows it, otherwise it returns
// [ErrCircuitOpen] without touching the backend.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.allow()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailure(probe)
	} else {
		cb.recordSuccess(probe)
	}
	return err
}

// recordFailure handles failure accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool) {
	cb.lastFailure = time.Now()

	if probe {
		cb.halfOpenFails++
		// Any failed probe re-opens immediately.
		cb.failStreak = cb.maxFailures
		cb.transition(StateOpen, "circuit breaker re-opened, backend still failing")
		return
	}

	cb.failStreak++
	if cb.failStreak >= cb.maxFailures {
		cb.transition(StateOpen, "circuit breaker opened",
			"consecutive_failures", cb.failStreak)
	}
}

// recordSuccess handles success accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) {
	if probe {
		if cb.halfOpenCalls-cb.halfOpenFails >= cb.halfOpenMax {
			cb.failStreak = 0
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			cb.transition(StateClosed, "circuit breaker closed, backend recovered")
		}
		return
	}

	// Closed state — a success resets the failure streak.
	cb.failStreak = 0
}

// State reports the breaker's state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the actual transition happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failStreak = 0
	cb.halfOpenCalls = 0
	cb.halfOpenFails = 0
	cb.transition(StateClosed, "circuit breaker manually reset")
}
