package resilience

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

var errBackendDown = errors.New("model backend unavailable")

// quietBreaker builds a breaker that logs nowhere, so tests stay silent.
func quietBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCircuitBreaker(cfg)
}

// trip drives the breaker to the open state with consecutive failures.
func trip(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		_ = cb.Execute(func() error { return errBackendDown })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after %d failures, want open", cb.State(), failures)
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := quietBreaker(CircuitBreakerConfig{Name: "anthropic"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3",
			cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedForwardsCalls(t *testing.T) {
	cb := quietBreaker(CircuitBreakerConfig{Name: "anthropic", MaxFailures: 3})
	called := false
	if err := cb.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Fatal("healthy breaker did not forward the call")
	}
}

func TestCircuitBreaker_OpensAndRejects(t *testing.T) {
	cb := quietBreaker(CircuitBreakerConfig{
		Name:         "anthropic",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})
	trip(t, cb, 3)

	reached := false
	err := cb.Execute(func() error { reached = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if reached {
		t.Fatal("open breaker still forwarded the call")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := quietBreaker(CircuitBreakerConfig{Name: "anthropic", MaxFailures: 3})

	_ = cb.Execute(func() error { return errBackendDown })
	_ = cb.Execute(func() error { return errBackendDown })
	_ = cb.Execute(func() error { return nil })

	// The counter restarted, so two more failures must not trip it.
	_ = cb.Execute(func() error { return errBackendDown })
	_ = cb.Execute(func() error { return errBackendDown })
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after the counter reset", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := quietBreaker(CircuitBreakerConfig{
		Name:         "anthropic",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})
	trip(t, cb, 2)

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after the reset timeout", cb.State())
	}
}

func TestCircuitBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	cb := quietBreaker(CircuitBreakerConfig{
		Name:         "anthropic",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})
	trip(t, cb, 2)
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := quietBreaker(CircuitBreakerConfig{
		Name:         "anthropic",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  3,
	})
	trip(t, cb, 2)
	time.Sleep(15 * time.Millisecond)

	if err := cb.Execute(func() error { return errBackendDown }); err == nil {
		t.Fatal("expected the failing probe's error")
	}

	// lastFailure was just refreshed, so the raw state must be open.
	cb.mu.Lock()
	s := cb.state
	cb.mu.Unlock()
	if s != StateOpen {
		t.Fatalf("state = %v, want open after a failed probe", s)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := quietBreaker(CircuitBreakerConfig{
		Name:         "anthropic",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	trip(t, cb, 2)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after manual reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	type change struct {
		name     string
		from, to State
	}
	var changes []change
	cfg := CircuitBreakerConfig{
		Name:         "anthropic",
		MaxFailures:  2,
		ResetTimeout: 5 * time.Millisecond,
		HalfOpenMax:  1,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, change{name, from, to})
		},
	}
	cb := NewCircuitBreaker(cfg)

	trip(t, cb, 2)
	time.Sleep(10 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}

	want := []change{
		{"anthropic", StateClosed, StateOpen},
		{"anthropic", StateOpen, StateHalfOpen},
		{"anthropic", StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d state changes %v, want %d", len(changes), changes, len(want))
	}
	for i, c := range changes {
		if c != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, c, want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
