// Package dm implements the Dungeon Master engine: narration turns,
// prompt-driven tool selection and state-change extraction.
//
// The narration model produces plain prose; there is no native function
// calling. Tool use is decided by a second, low-temperature completion that
// reads the exchange and answers with strict JSON. Unparseable model output
// degrades to "no tool" rather than failing the turn.
package dm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openquill/dmforge/internal/tool"
	"github.com/openquill/dmforge/pkg/provider/llm"
)

const decideTemperature = 0.1

// Decision is the tool selection parsed from the model's JSON answer. A nil
// *Decision means the model chose not to use a tool.
type Decision struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// Execution is the outcome of one tool invocation. Err is a string rather
// than an error so executions marshal cleanly into turn results.
type Execution struct {
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args,omitempty"`
	Output string          `json:"output,omitempty"`
	Err    string          `json:"error,omitempty"`
}

// Executor turns an exchange (player message plus narration) into at most
// one reference-tool invocation. It is safe for concurrent use.
type Executor struct {
	llm      llm.Provider
	registry *tool.Registry
	logger   *slog.Logger
}

// NewExecutor returns an Executor backed by the given provider and
// registry. A nil logger falls back to [slog.Default].
func NewExecutor(provider llm.Provider, registry *tool.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{llm: provider, registry: registry, logger: logger}
}

// Decide asks the model whether the exchange warrants a tool call. The
// model answers with strict JSON ({"tool": string|null, "args": {...}});
// anything unparseable is treated as "no tool" and logged, never surfaced
// as an error. A non-nil error means the completion itself failed.
func (e *Executor) Decide(ctx context.Context, playerMessage, narration string) (*Decision, error) {
	req := llm.CompletionRequest{
		SystemPrompt: buildDecidePrompt(e.registry.SchemaPrompt()),
		Temperature:  decideTemperature,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf("Player: %s\n\nDungeon Master: %s", playerMessage, narration)},
		},
	}

	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("dm: decide tool: %w", err)
	}

	cleaned := stripMarkdown(resp.Content)
	var d struct {
		Tool *string         `json:"tool"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal([]byte(cleaned), &d); err != nil {
		e.logger.Debug("tool decision unparseable, treating as no tool",
			slog.String("content", truncate(resp.Content, 200)))
		return nil, nil
	}
	if d.Tool == nil || strings.TrimSpace(*d.Tool) == "" {
		return nil, nil
	}

	args := d.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return &Decision{Tool: *d.Tool, Args: args}, nil
}

// Execute runs one decision against the registry. A missing tool or a
// handler failure is captured in Execution.Err; the turn keeps going.
func (e *Executor) Execute(ctx context.Context, d Decision) Execution {
	ex := Execution{Tool: d.Tool, Args: d.Args}

	out, err := e.registry.Execute(ctx, d.Tool, string(d.Args))
	if err != nil {
		ex.Err = err.Error()
		e.logger.Warn("tool execution failed",
			slog.String("tool", d.Tool),
			slog.String("error", err.Error()))
		return ex
	}
	ex.Output = out
	return ex
}

// Run combines Decide and Execute. It returns nil when no tool was chosen.
func (e *Executor) Run(ctx context.Context, playerMessage, narration string) (*Execution, error) {
	d, err := e.Decide(ctx, playerMessage, narration)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	ex := e.Execute(ctx, *d)
	return &ex, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```)
// that some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
