package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openquill/dmforge/internal/observe"
)

// ErrNotFound is returned by [Registry.Execute] and [Registry.Get] when the
// named tool is not registered. Unknown tool names are always loud errors,
// never silently ignored.
var ErrNotFound = errors.New("tool not found")

// ErrDuplicate is returned by [Registry.Register] when a tool with the same
// name is already registered. Silent overwrite papers over wiring bugs.
var ErrDuplicate = errors.New("tool already registered")

// Registry is a concurrent-safe catalogue of named tools.
//
// The zero value is NOT usable; create instances with [NewRegistry].
type Registry struct {
	metrics *observe.Metrics

	mu    sync.RWMutex
	tools map[string]Tool
}

// RegistryOption is a functional option for [NewRegistry].
type RegistryOption func(*Registry)

// WithMetrics replaces the metric instruments used to record tool
// executions. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		metrics: observe.DefaultMetrics(),
		tools:   make(map[string]Tool),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds t to the registry. The definition is validated first.
// Registering a name that already exists fails with [ErrDuplicate].
func (r *Registry) Register(t Tool) error {
	if err := t.Definition.Validate(); err != nil {
		return err
	}
	if t.Handler == nil {
		return fmt.Errorf("tool: %q has a nil handler", t.Definition.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Definition.Name]; exists {
		return fmt.Errorf("tool: register %q: %w", t.Definition.Name, ErrDuplicate)
	}
	r.tools[t.Definition.Name] = t
	return nil
}

// RegisterAll registers every tool in ts, stopping at the first failure.
func (r *Registry) RegisterAll(ts ...Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the named tool. The error wraps [ErrNotFound] when absent.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("tool: %q: %w", name, ErrNotFound)
	}
	return t, nil
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// All returns every registered tool in lexicographic name order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, name := range sortedNames(r.tools) {
		out = append(out, r.tools[name])
	}
	return out
}

// Execute runs the named tool with JSON-encoded args and returns its result.
// The error wraps [ErrNotFound] when the tool is not registered; otherwise
// the handler's result and error are returned as-is. Every invocation is
// recorded: latency and outcome per tool name.
func (r *Registry) Execute(ctx context.Context, name string, args string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		r.metrics.RecordToolCall(ctx, name, "not_found")
		return "", fmt.Errorf("tool: execute %q: %w", name, ErrNotFound)
	}

	start := time.Now()
	out, err := t.Handler(ctx, args)
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordToolExecution(ctx, name, time.Since(start), status)
	return out, err
}

// Descriptions renders a one-line-per-tool summary of the catalogue, in
// deterministic name order. Used in the narration system prompt so the DM
// model knows what the application can do.
func (r *Registry) Descriptions() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, name := range sortedNames(r.tools) {
		r.tools[name].renderDescription(&sb)
	}
	return sb.String()
}

// SchemaPromptFor renders the schema of a subset of the catalogue in
// deterministic name order. Unknown names are skipped. The extraction
// prompt uses this to expose only the character-state tools.
func (r *Registry) SchemaPromptFor(names ...string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subset := make(map[string]Tool, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			subset[name] = t
		}
	}

	var sb strings.Builder
	for i, name := range sortedNames(subset) {
		if i > 0 {
			sb.WriteByte('\n')
		}
		subset[name].renderSchema(&sb)
	}
	return sb.String()
}

// SchemaPrompt renders the full catalogue — name, description, and parameter
// list with type and required annotations — in deterministic name order.
// This text is the sole interface contract exposed to the tool-decision LLM.
func (r *Registry) SchemaPrompt() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	names := sortedNames(r.tools)
	for i, name := range names {
		if i > 0 {
			sb.WriteByte('\n')
		}
		r.tools[name].renderSchema(&sb)
	}
	return sb.String()
}
