package dm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openquill/dmforge/pkg/provider/llm"
)

const outlineTemperature = 0.9

// outlinePrompt asks for a campaign skeleton the narrator can improvise
// against. High temperature on purpose; every campaign should feel fresh.
const outlinePrompt = `You are preparing a single-player Dungeons & Dragons 5e campaign.

Write a short campaign outline: a setting, a central conflict, three or four story beats, and one recurring antagonist. Keep it under 250 words, written as notes for the Dungeon Master, not as prose for the player. Do not include stat blocks.`

// GenerateOutline asks the model for a fresh campaign outline. theme, when
// non-empty, is folded into the request ("a heist campaign set in a frozen
// port city").
func GenerateOutline(ctx context.Context, provider llm.Provider, theme string) (string, error) {
	userMsg := "Generate the campaign outline."
	if strings.TrimSpace(theme) != "" {
		userMsg = fmt.Sprintf("Generate the campaign outline. Theme: %s", theme)
	}

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: outlinePrompt,
		Temperature:  outlineTemperature,
		Messages: []llm.Message{
			{Role: "user", Content: userMsg},
		},
	})
	if err != nil {
		return "", fmt.Errorf("dm: generate outline: %w", err)
	}
	outline := strings.TrimSpace(resp.Content)
	if outline == "" {
		return "", fmt.Errorf("dm: generate outline: model returned no text")
	}
	return outline, nil
}
