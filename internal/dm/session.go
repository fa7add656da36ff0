package dm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openquill/dmforge/pkg/provider/llm"
)

// SheetFunc renders the current character sheet for prompt injection. The
// session never reads character state directly; the function is supplied at
// construction so the narrator always sees the post-mutation snapshot.
type SheetFunc func(ctx context.Context) (string, error)

// TurnResult is everything one player turn produced beyond the streamed
// narration text.
type TurnResult struct {
	Narration string `json:"narration"`

	// Reference is the reference lookup the exchange triggered, if any.
	Reference *Execution `json:"reference,omitempty"`

	// Changes are the character-state executions in the exact order the
	// extractor reported them. Failed calls stay in the list with Err set.
	Changes []Execution `json:"changes,omitempty"`
}

// SessionOption is a functional option for configuring a [Session].
type SessionOption func(*Session)

// WithOutline sets the campaign outline injected into the narrator prompt.
func WithOutline(outline string) SessionOption {
	return func(s *Session) { s.outline = outline }
}

// WithSheetFunc sets the character sheet renderer.
func WithSheetFunc(f SheetFunc) SessionOption {
	return func(s *Session) { s.sheet = f }
}

// WithHistory seeds the conversation log with an existing transcript.
// Seeded messages count as already reconciled: the applied watermark starts
// past them, so the first turn only extracts changes from its own exchange.
func WithHistory(history []llm.Message) SessionOption {
	return func(s *Session) {
		s.log = make([]llm.Message, len(history))
		copy(s.log, history)
		s.appliedThrough = len(s.log)
	}
}

// WithSessionLogger sets the logger. Default: [slog.Default].
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// Session owns one playthrough: the append-only conversation log, the
// narration stream and the post-narration reconciliation (reference lookup,
// then state-change extraction and in-order execution).
//
// Turns are serialized; a second Turn blocks until the first finishes.
type Session struct {
	mu sync.Mutex

	llm       llm.Provider
	executor  *Executor
	extractor *Extractor

	outline string
	sheet   SheetFunc
	logger  *slog.Logger

	log []llm.Message

	// appliedThrough is the log index up to which state changes have been
	// extracted and applied. reconcile refuses to extract again until the
	// log has grown past it, so replaying a window cannot double-apply.
	appliedThrough int
}

// NewSession builds a Session. provider drives the narration stream;
// executor and extractor run the reconciliation phase.
func NewSession(provider llm.Provider, executor *Executor, extractor *Extractor, opts ...SessionOption) *Session {
	s := &Session{
		llm:       provider,
		executor:  executor,
		extractor: extractor,
		sheet:     func(context.Context) (string, error) { return "(no character sheet)", nil },
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// History returns a copy of the conversation log.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.log))
	copy(out, s.log)
	return out
}

// Turn plays one player turn: stream the narration (onChunk receives each
// text fragment as it arrives; nil is allowed), then reconcile — decide at
// most one reference lookup and extract and apply the state changes the
// exchange implies. Tool failures are isolated per call and reported in the
// result; only infrastructure failures abort the turn.
func (s *Session) Turn(ctx context.Context, playerMessage string, onChunk func(string)) (*TurnResult, error) {
	if strings.TrimSpace(playerMessage) == "" {
		return nil, fmt.Errorf("dm: player message must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sheet, err := s.sheet(ctx)
	if err != nil {
		return nil, fmt.Errorf("dm: render character sheet: %w", err)
	}

	s.log = append(s.log, llm.Message{Role: "user", Content: playerMessage})

	narration, err := s.streamNarration(ctx, sheet, onChunk)
	if err != nil {
		// The user message stays in the log; a retry continues the story.
		return nil, err
	}
	s.log = append(s.log, llm.Message{Role: "assistant", Content: narration})

	result := &TurnResult{Narration: narration}

	ref, err := s.executor.Run(ctx, playerMessage, narration)
	if err != nil {
		s.logger.Warn("reference decision failed", slog.String("error", err.Error()))
	} else {
		result.Reference = ref
	}

	s.reconcile(ctx, result)

	return result, nil
}

// reconcile extracts and applies the state changes implied by log entries
// past the applied watermark, then advances it. A window that was already
// reconciled is skipped without a model round trip. Caller holds s.mu.
func (s *Session) reconcile(ctx context.Context, result *TurnResult) {
	if len(s.log) <= s.appliedThrough {
		return
	}

	calls, err := s.extractor.Extract(ctx, s.window())
	if err != nil {
		s.logger.Warn("state extraction failed", slog.String("error", err.Error()))
	}
	for _, call := range calls {
		ex := s.executor.Execute(ctx, Decision{Tool: call.Tool, Args: call.Params})
		result.Changes = append(result.Changes, ex)
	}
	s.appliedThrough = len(s.log)
}

// streamNarration runs the narration completion and accumulates the full
// text while forwarding fragments to onChunk.
func (s *Session) streamNarration(ctx context.Context, sheet string, onChunk func(string)) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: buildNarratorPrompt(s.outline, sheet),
		Messages:     s.log,
	}

	chunks, err := s.llm.StreamCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("dm: start narration: %w", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			return "", fmt.Errorf("dm: narration stream: %s", chunk.Text)
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			if onChunk != nil {
				onChunk(chunk.Text)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("dm: narration stream: %w", err)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("dm: narration stream produced no text")
	}
	return sb.String(), nil
}

// window returns the trailing slice of the log the extractor may see.
func (s *Session) window() []llm.Message {
	if len(s.log) <= extractWindow {
		return s.log
	}
	return s.log[len(s.log)-extractWindow:]
}
