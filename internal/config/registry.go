package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openquill/dmforge/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps LLM provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func(ProviderEntry) (llm.Provider, error)),
	}
}

// Register registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) Create(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateChain instantiates the primary provider followed by every fallback,
// in configuration order. The caller typically hands the result to a
// failover wrapper.
func (r *Registry) CreateChain(cfg LLMConfig) ([]llm.Provider, error) {
	entries := append([]ProviderEntry{cfg.Primary}, cfg.Fallbacks...)
	providers := make([]llm.Provider, 0, len(entries))
	for _, entry := range entries {
		p, err := r.Create(entry)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
