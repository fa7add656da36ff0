package dm

import (
	"context"
	"strings"
	"testing"

	"github.com/openquill/dmforge/internal/character"
	"github.com/openquill/dmforge/internal/tool"
	"github.com/openquill/dmforge/internal/tool/sheet"
	"github.com/openquill/dmforge/pkg/provider/llm"
	"github.com/openquill/dmforge/pkg/provider/llm/mock"
)

// newTurnFixture wires a session against a mock provider, an in-memory
// character store and a registry carrying the sheet tools plus one stubbed
// reference tool.
func newTurnFixture(t *testing.T, p *mock.Provider) (*Session, *character.MemStore, string) {
	t.Helper()

	store := &character.MemStore{}
	ch := character.Character{Name: "Mira", HitPoints: 20, MaxHitPoints: 20}
	ch.Money.Gold = 10
	created, err := store.Create(context.Background(), ch)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	binder, err := sheet.NewBinder(store, sheet.FixedActive(created.ID), nil)
	if err != nil {
		t.Fatalf("NewBinder: %v", err)
	}

	reg := tool.NewRegistry()
	if err := reg.RegisterAll(binder.Tools()...); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	err = reg.Register(tool.Tool{
		Definition: tool.Definition{
			Name:        "get_monster_details",
			Description: "Look up a monster.",
			Parameters: []tool.Parameter{
				{Name: "name", Type: "string", Description: "Monster name", Required: true},
			},
		},
		Handler: func(context.Context, string) (string, error) {
			return `{"name": "Goblin", "hit_points": 7}`, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	executor := NewExecutor(p, reg, nil)
	extractor := NewExtractor(p, reg.SchemaPromptFor(
		sheet.ToolUpdateHitPoints, sheet.ToolUpdateCurrency,
		sheet.ToolAddInventoryItem, sheet.ToolRemoveInventoryItem,
		sheet.ToolUpdateExperience,
	), nil)

	s := NewSession(p, executor, extractor,
		WithOutline("A goblin ambush on the king's road."),
		WithSheetFunc(func(context.Context) (string, error) {
			cur, err := store.Get(context.Background(), created.ID)
			if err != nil {
				return "", err
			}
			return "Name: " + cur.Name, nil
		}),
	)
	return s, store, created.ID
}

func TestTurn_FullCycle(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "A goblin arrow "},
			{Text: "strikes you for 6 damage.", FinishReason: "stop"},
		},
		CompleteResponses: []*llm.CompletionResponse{
			// Reference decision.
			{Content: `{"tool": "get_monster_details", "args": {"name": "Goblin"}}`},
			// State extraction.
			{Content: `{"tool_calls": [
				{"tool": "update_hit_points", "params": {"amount": -6, "reason": "goblin arrow"}},
				{"tool": "summon_kraken", "params": {}}
			]}`},
		},
	}
	s, store, id := newTurnFixture(t, p)

	var streamed strings.Builder
	res, err := s.Turn(context.Background(), "I charge the goblin!", func(text string) {
		streamed.WriteString(text)
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}

	if res.Narration != "A goblin arrow strikes you for 6 damage." {
		t.Errorf("narration = %q", res.Narration)
	}
	if streamed.String() != res.Narration {
		t.Errorf("streamed %q, want %q", streamed.String(), res.Narration)
	}

	if res.Reference == nil || res.Reference.Tool != "get_monster_details" {
		t.Fatalf("reference = %+v", res.Reference)
	}
	if !strings.Contains(res.Reference.Output, "Goblin") {
		t.Errorf("reference output = %q", res.Reference.Output)
	}

	// Both extracted calls must appear in order; the unknown tool fails in
	// isolation without stopping the first from applying.
	if len(res.Changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(res.Changes))
	}
	if res.Changes[0].Tool != "update_hit_points" || res.Changes[0].Err != "" {
		t.Errorf("first change = %+v", res.Changes[0])
	}
	if res.Changes[1].Tool != "summon_kraken" || res.Changes[1].Err == "" {
		t.Errorf("second change = %+v", res.Changes[1])
	}

	stored, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.HitPoints != 14 {
		t.Errorf("HP = %d, want 14", stored.HitPoints)
	}

	// Narration prompt carries outline and live sheet.
	if len(p.StreamCalls) != 1 {
		t.Fatalf("got %d stream calls, want 1", len(p.StreamCalls))
	}
	sys := p.StreamCalls[0].Req.SystemPrompt
	if !strings.Contains(sys, "goblin ambush") || !strings.Contains(sys, "Name: Mira") {
		t.Errorf("narrator prompt missing outline or sheet: %q", sys)
	}

	hist := s.History()
	if len(hist) != 2 || hist[0].Role != "user" || hist[1].Role != "assistant" {
		t.Errorf("history = %+v", hist)
	}
}

func TestTurn_NoToolQuietExchange(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		StreamChunks: []llm.Chunk{{Text: "The innkeeper nods.", FinishReason: "stop"}},
		CompleteResponses: []*llm.CompletionResponse{
			{Content: `{"tool": null}`},
			{Content: `{"tool_calls": []}`},
		},
	}
	s, store, id := newTurnFixture(t, p)
	before, _ := store.Get(context.Background(), id)

	res, err := s.Turn(context.Background(), "I greet the innkeeper.", nil)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Reference != nil {
		t.Errorf("reference = %+v, want nil", res.Reference)
	}
	if len(res.Changes) != 0 {
		t.Errorf("changes = %+v, want none", res.Changes)
	}

	after, _ := store.Get(context.Background(), id)
	if after.HitPoints != before.HitPoints || after.Money != before.Money {
		t.Error("quiet exchange mutated the character")
	}
}

func TestReconcile_WatermarkSkipsAppliedWindow(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		StreamChunks: []llm.Chunk{{Text: "The blade bites for 4 damage.", FinishReason: "stop"}},
		CompleteResponses: []*llm.CompletionResponse{
			{Content: `{"tool": null}`},
			{Content: `{"tool_calls": [{"tool": "update_hit_points", "params": {"amount": -4, "reason": "blade"}}]}`},
		},
	}
	s, store, id := newTurnFixture(t, p)

	if _, err := s.Turn(context.Background(), "I parry too late.", nil); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	extractions := len(p.CompleteCalls)

	// Reconciling again over the same log must not reach the model or the
	// store: the watermark already covers every entry.
	s.mu.Lock()
	res := &TurnResult{}
	s.reconcile(context.Background(), res)
	s.mu.Unlock()

	if len(res.Changes) != 0 {
		t.Errorf("re-reconcile produced %d changes, want 0", len(res.Changes))
	}
	if len(p.CompleteCalls) != extractions {
		t.Errorf("re-reconcile made %d extra model calls", len(p.CompleteCalls)-extractions)
	}
	stored, _ := store.Get(context.Background(), id)
	if stored.HitPoints != 16 {
		t.Errorf("HP = %d, want 16 (damage applied exactly once)", stored.HitPoints)
	}
}

func TestWithHistory_SeedsLogAlreadyReconciled(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	s, _, _ := newTurnFixture(t, p)
	WithHistory([]llm.Message{
		{Role: "user", Content: "I take 3 damage from the trap."},
		{Role: "assistant", Content: "The dart stings."},
	})(s)

	if got := len(s.History()); got != 2 {
		t.Fatalf("history length = %d, want 2", got)
	}

	// Seeded transcript counts as applied; reconciling it is a no-op.
	s.mu.Lock()
	s.reconcile(context.Background(), &TurnResult{})
	s.mu.Unlock()

	if len(p.CompleteCalls) != 0 {
		t.Errorf("seeded history triggered %d extractions, want 0", len(p.CompleteCalls))
	}
}

func TestTurn_EmptyMessage(t *testing.T) {
	t.Parallel()

	s, _, _ := newTurnFixture(t, &mock.Provider{})
	if _, err := s.Turn(context.Background(), "   ", nil); err == nil {
		t.Fatal("Turn accepted an empty message")
	}
}

func TestTurn_StreamErrorAborts(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		StreamChunks: []llm.Chunk{{Text: "rate limited", FinishReason: "error"}},
	}
	s, _, _ := newTurnFixture(t, p)

	if _, err := s.Turn(context.Background(), "Hello?", nil); err == nil {
		t.Fatal("Turn succeeded despite stream error")
	}
	// No reconciliation completions may have run.
	if len(p.CompleteCalls) != 0 {
		t.Errorf("got %d Complete calls after failed narration, want 0", len(p.CompleteCalls))
	}
}
