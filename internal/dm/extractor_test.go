package dm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/openquill/dmforge/internal/observe"
	"github.com/openquill/dmforge/pkg/provider/llm"
	"github.com/openquill/dmforge/pkg/provider/llm/mock"
)

const testSchema = `Tool: update_hit_points
Description: Adjust hit points.
Parameters:
  - amount (number, required): HP change
  - reason (string, required): Narrative reason`

func TestExtract_TooShortConversation(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	x := NewExtractor(p, testSchema, nil)

	calls, err := x.Extract(context.Background(), []llm.Message{
		{Role: "user", Content: "Hello"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("got %d calls, want 0", len(calls))
	}
	if len(p.CompleteCalls) != 0 {
		t.Error("model consulted for a conversation without an exchange")
	}
}

func TestExtract_ReturnsCallsInOrder(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"tool_calls": [
				{"tool": "update_hit_points", "params": {"amount": -6, "reason": "goblin arrow"}},
				{"tool": "update_currency", "params": {"currency_type": "gold", "amount": 20, "reason": "loot"}}
			]}`,
		},
	}
	x := NewExtractor(p, testSchema, nil)

	calls, err := x.Extract(context.Background(), []llm.Message{
		{Role: "user", Content: "I search the goblin."},
		{Role: "assistant", Content: "An arrow hits you for 6 damage, but you find 20 gold pieces."},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Tool != "update_hit_points" || calls[1].Tool != "update_currency" {
		t.Errorf("order = %s, %s", calls[0].Tool, calls[1].Tool)
	}
}

func TestExtract_WindowAndExchangeMarker(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"tool_calls": []}`},
	}
	x := NewExtractor(p, testSchema, nil)

	var messages []llm.Message
	for i := 1; i <= 8; i++ {
		role := "user"
		if i%2 == 0 {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
	}

	if _, err := x.Extract(context.Background(), messages); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(p.CompleteCalls) != 1 {
		t.Fatalf("got %d Complete calls, want 1", len(p.CompleteCalls))
	}

	rendered := p.CompleteCalls[0].Req.Messages[0].Content
	if strings.Contains(rendered, "message 2") {
		t.Error("window includes messages older than the last six")
	}
	if !strings.Contains(rendered, "message 3") || !strings.Contains(rendered, "message 8") {
		t.Error("window is missing recent messages")
	}

	marker := strings.Index(rendered, "--- current exchange ---")
	if marker == -1 {
		t.Fatal("rendered conversation has no current-exchange marker")
	}
	if strings.Index(rendered, "message 7") < marker {
		t.Error("marker does not precede the final exchange")
	}
	if strings.Index(rendered, "message 6") > marker {
		t.Error("marker placed before applied history")
	}
}

func TestExtract_PromptEncodesInferenceDefaults(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"tool_calls": []}`},
	}
	x := NewExtractor(p, testSchema, nil)

	messages := []llm.Message{
		{Role: "user", Content: "I swallow the coin."},
		{Role: "assistant", Content: "It goes down. Unwise."},
	}
	if _, err := x.Extract(context.Background(), messages); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	prompt := p.CompleteCalls[0].Req.SystemPrompt
	for _, want := range []string{
		"-1 of that currency",
		"-1 to -3 hit points",
		"+1 to +3 hit points",
		"NEVER repeat a change",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("extraction prompt is missing %q", want)
		}
	}
}

func TestExtract_UnparseableIsEmpty(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Sure! The character took some damage."},
	}
	x := NewExtractor(p, testSchema, nil)

	calls, err := x.Extract(context.Background(), []llm.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("got %d calls, want 0", len(calls))
	}
}

func TestExtract_DropsNamelessEntries(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"tool_calls": [{"tool": "", "params": {}}, {"tool": "update_experience", "params": {"amount": 50}}]}`,
		},
	}
	x := NewExtractor(p, testSchema, nil)

	calls, err := x.Extract(context.Background(), []llm.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(calls) != 1 || calls[0].Tool != "update_experience" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestExtract_RecordsOutcomes(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := &mock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: `{"tool_calls": [{"tool": "update_hit_points", "params": {"amount": -2, "reason": "fall"}}]}`},
			{Content: `{"tool_calls": []}`},
			{Content: "not even close to JSON"},
		},
	}
	x := NewExtractor(p, testSchema, nil, WithExtractorMetrics(m))

	exchange := []llm.Message{
		{Role: "user", Content: "I jump down."},
		{Role: "assistant", Content: "You land badly."},
	}
	for i := 0; i < 3; i++ {
		if _, err := x.Extract(context.Background(), exchange); err != nil {
			t.Fatalf("Extract %d: %v", i, err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	byOutcome := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "dmforge.extractions" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("extractions is %T, want Sum[int64]", met.Data)
			}
			for _, dp := range sum.DataPoints {
				if outcome, ok := dp.Attributes.Value("outcome"); ok {
					byOutcome[outcome.AsString()] += dp.Value
				}
			}
		}
	}
	if byOutcome["ok"] != 1 || byOutcome["empty"] != 1 || byOutcome["failed"] != 1 {
		t.Errorf("extraction outcomes = %v, want one each of ok/empty/failed", byOutcome)
	}
}

func TestExtract_ProviderError(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errors.New("timeout")}
	x := NewExtractor(p, testSchema, nil)

	_, err := x.Extract(context.Background(), []llm.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	})
	if err == nil {
		t.Fatal("Extract succeeded, want error")
	}
}
