package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/openquill/dmforge/internal/observe"
	"github.com/openquill/dmforge/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried. Every attempt is
// recorded against the provider request/error/latency instruments.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallbackOption customizes an [LLMFallback].
type LLMFallbackOption func(*LLMFallback)

// WithProviderMetrics sets the metrics instruments that record per-backend
// attempts. Defaults to [observe.DefaultMetrics].
func WithProviderMetrics(m *observe.Metrics) LLMFallbackOption {
	return func(f *LLMFallback) {
		if m != nil {
			f.metrics = m
		}
	}
}

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, opts ...LLMFallbackOption) *LLMFallback {
	f := &LLMFallback{metrics: observe.DefaultMetrics()}
	for _, opt := range opts {
		opt(f)
	}
	userHook := cfg.OnAttempt
	cfg.OnAttempt = func(name string, elapsed time.Duration, err error) {
		f.recordAttempt(name, elapsed, err)
		if userHook != nil {
			userHook(name, elapsed, err)
		}
	}
	f.group = NewFallbackGroup(primary, primaryName, cfg)
	return f
}

// recordAttempt translates one backend attempt into metric increments. Rejected
// attempts (open breaker) never reached the backend and are labelled as such.
func (f *LLMFallback) recordAttempt(name string, elapsed time.Duration, err error) {
	ctx := context.Background()
	switch {
	case errors.Is(err, ErrCircuitOpen):
		f.metrics.RecordProviderRequest(ctx, name, "llm", "rejected")
	case err != nil:
		f.metrics.RecordLLMRequest(ctx, name, elapsed, "error")
		f.metrics.RecordProviderError(ctx, name, "llm")
	default:
		f.metrics.RecordLLMRequest(ctx, name, elapsed, "ok")
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion sends the request to the first healthy provider and returns a
// streaming chunk channel. Only the initial connection attempt is covered by
// failover; once a stream is established, mid-stream errors are the caller's
// responsibility.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Capabilities returns the capabilities of the first entry (the primary).
// This does not participate in failover because capabilities are static metadata.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return llm.ModelCapabilities{}
}
