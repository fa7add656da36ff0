package dm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openquill/dmforge/pkg/provider/llm"
	"github.com/openquill/dmforge/pkg/provider/llm/mock"
)

func TestGenerateOutline(t *testing.T) {
	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "  The Thornwood calls.  "},
	}

	outline, err := GenerateOutline(context.Background(), p, "a cursed forest")
	if err != nil {
		t.Fatalf("GenerateOutline: %v", err)
	}
	if outline != "The Thornwood calls." {
		t.Fatalf("outline = %q", outline)
	}

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("CompleteCalls = %d, want 1", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if !strings.Contains(req.Messages[0].Content, "a cursed forest") {
		t.Fatalf("theme missing from request: %q", req.Messages[0].Content)
	}
	if req.Temperature != outlineTemperature {
		t.Fatalf("temperature = %v", req.Temperature)
	}
}

func TestGenerateOutline_EmptyResponse(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "   "}}
	if _, err := GenerateOutline(context.Background(), p, ""); err == nil {
		t.Fatal("expected error for empty model output")
	}
}

func TestGenerateOutline_ProviderError(t *testing.T) {
	p := &mock.Provider{CompleteErr: errors.New("backend down")}
	if _, err := GenerateOutline(context.Background(), p, ""); err == nil {
		t.Fatal("expected provider error to propagate")
	}
}
