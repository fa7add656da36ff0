package dm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openquill/dmforge/internal/observe"
	"github.com/openquill/dmforge/pkg/provider/llm"
)

const (
	// extractWindow is how many trailing messages the extractor shows the
	// model. Older history has already been applied and only causes
	// double-reporting.
	extractWindow = 6

	extractTemperature = 0.1
)

// ToolCall is one state change mined from an exchange, ready for in-order
// execution against the registry.
type ToolCall struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// Extractor mines conversation history for character-state changes the
// narration described but no one applied yet. It is safe for concurrent
// use.
//
// Extraction is fail-safe: an unparseable model answer yields an empty call
// list, never an error. Missing a change is recoverable (the player sees
// the sheet); double-applying one is not.
type Extractor struct {
	llm     llm.Provider
	schema  string
	logger  *slog.Logger
	metrics *observe.Metrics
}

// ExtractorOption is a functional option for [NewExtractor].
type ExtractorOption func(*Extractor)

// WithExtractorMetrics replaces the metric instruments used to record
// extraction outcomes. Default: [observe.DefaultMetrics].
func WithExtractorMetrics(m *observe.Metrics) ExtractorOption {
	return func(x *Extractor) { x.metrics = m }
}

// NewExtractor returns an Extractor. schema is the rendered catalogue of
// the state tools the model may report (see
// [tool.Registry.SchemaPromptFor]). A nil logger falls back to
// [slog.Default].
func NewExtractor(provider llm.Provider, schema string, logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	x := &Extractor{
		llm:     provider,
		schema:  schema,
		logger:  logger,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Extract returns the state changes implied by the latest exchange in
// messages. Fewer than two messages cannot form an exchange and yield an
// empty list without a model round trip.
func (x *Extractor) Extract(ctx context.Context, messages []llm.Message) ([]ToolCall, error) {
	if len(messages) < 2 {
		return nil, nil
	}
	if len(messages) > extractWindow {
		messages = messages[len(messages)-extractWindow:]
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildExtractPrompt(x.schema),
		Temperature:  extractTemperature,
		Messages: []llm.Message{
			{Role: "user", Content: renderConversation(messages)},
		},
	}

	resp, err := x.llm.Complete(ctx, req)
	if err != nil {
		x.metrics.RecordExtraction(ctx, "failed")
		return nil, fmt.Errorf("dm: extract state changes: %w", err)
	}

	calls, parseErr := parseToolCalls(resp.Content)
	if parseErr != nil {
		x.logger.Debug("extraction unparseable, treating as no changes",
			slog.String("content", truncate(resp.Content, 200)))
		x.metrics.RecordExtraction(ctx, "failed")
		return nil, nil
	}
	if len(calls) == 0 {
		x.metrics.RecordExtraction(ctx, "empty")
	} else {
		x.metrics.RecordExtraction(ctx, "ok")
	}
	return calls, nil
}

// renderConversation labels each message by speaker and fences off the
// current exchange (the final two messages) so the model can tell applied
// history from new material.
func renderConversation(messages []llm.Message) string {
	var sb strings.Builder
	for i, m := range messages {
		if i == len(messages)-2 {
			sb.WriteString("--- current exchange ---\n")
		}
		switch m.Role {
		case "assistant":
			sb.WriteString("Dungeon Master: ")
		default:
			sb.WriteString("Player: ")
		}
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// parseToolCalls unmarshals the model's {"tool_calls": [...]} answer,
// dropping entries without a tool name.
func parseToolCalls(content string) ([]ToolCall, error) {
	cleaned := stripMarkdown(content)

	var r struct {
		ToolCalls []struct {
			Tool   string          `json:"tool"`
			Params json.RawMessage `json:"params"`
		} `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("dm: parse extraction response: %w", err)
	}

	calls := make([]ToolCall, 0, len(r.ToolCalls))
	for _, c := range r.ToolCalls {
		if strings.TrimSpace(c.Tool) == "" {
			continue
		}
		params := c.Params
		if len(params) == 0 {
			params = json.RawMessage("{}")
		}
		calls = append(calls, ToolCall{Tool: c.Tool, Params: params})
	}
	return calls, nil
}
