package reference

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openquill/dmforge/internal/tool"
)

// Category describes one SRD content category and the lookup tool generated
// for it.
type Category struct {
	// ToolName is the registered tool identifier (e.g. "get_spell_details").
	ToolName string

	// Endpoint is the API list path (e.g. "/api/spells").
	Endpoint string

	// Noun is the singular human-readable entity name used in prompt text.
	Noun string
}

// Categories lists every SRD content category offered as a lookup tool.
func Categories() []Category {
	return []Category{
		{ToolName: "get_monster_details", Endpoint: "/api/monsters", Noun: "monster"},
		{ToolName: "get_spell_details", Endpoint: "/api/spells", Noun: "spell"},
		{ToolName: "get_equipment_details", Endpoint: "/api/equipment", Noun: "equipment item"},
		{ToolName: "get_magic_item_details", Endpoint: "/api/magic-items", Noun: "magic item"},
		{ToolName: "get_class_details", Endpoint: "/api/classes", Noun: "character class"},
		{ToolName: "get_race_details", Endpoint: "/api/races", Noun: "race"},
		{ToolName: "get_background_details", Endpoint: "/api/backgrounds", Noun: "background"},
		{ToolName: "get_subclass_details", Endpoint: "/api/subclasses", Noun: "subclass"},
		{ToolName: "get_feat_details", Endpoint: "/api/feats", Noun: "feat"},
		{ToolName: "get_condition_details", Endpoint: "/api/conditions", Noun: "condition"},
		{ToolName: "get_skill_details", Endpoint: "/api/skills", Noun: "skill"},
		{ToolName: "get_trait_details", Endpoint: "/api/traits", Noun: "racial trait"},
		{ToolName: "get_language_details", Endpoint: "/api/languages", Noun: "language"},
		{ToolName: "get_damage_type_details", Endpoint: "/api/damage-types", Noun: "damage type"},
		{ToolName: "get_rule_details", Endpoint: "/api/rule-sections", Noun: "rule section"},
	}
}

// Endpoints returns the list paths of every category, for index warmup.
func Endpoints() []string {
	cats := Categories()
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = c.Endpoint
	}
	return out
}

// lookupArgs is the JSON-decoded input shared by every lookup tool.
type lookupArgs struct {
	// Name is the entity name to resolve, matched case-insensitively
	// against the category index.
	Name string `json:"name"`
}

// Tools returns one lookup tool per [Category], all backed by c, ready for
// registration.
func Tools(c *Client) []tool.Tool {
	cats := Categories()
	out := make([]tool.Tool, 0, len(cats))
	for _, cat := range cats {
		out = append(out, tool.Tool{
			Definition: tool.Definition{
				Name: cat.ToolName,
				Description: fmt.Sprintf(
					"Look up the full D&D 5e rules entry for a %s by its exact name (case-insensitive). Use this whenever canonical stats or rules text are needed.",
					cat.Noun),
				Parameters: []tool.Parameter{
					{
						Name:        "name",
						Type:        "string",
						Description: fmt.Sprintf("The %s's name, e.g. as printed in the rules.", cat.Noun),
						Required:    true,
					},
				},
			},
			Handler: lookupHandler(c, cat),
		})
	}
	return out
}

// lookupHandler builds the handler closure for one category.
func lookupHandler(c *Client, cat Category) tool.Handler {
	return func(ctx context.Context, args string) (string, error) {
		var a lookupArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("reference: %s: failed to parse arguments: %w", cat.ToolName, err)
		}

		res, err := c.Lookup(ctx, cat.Endpoint, a.Name)
		if err != nil {
			return "", fmt.Errorf("reference: %s: %w", cat.ToolName, err)
		}

		out, err := json.Marshal(res)
		if err != nil {
			return "", fmt.Errorf("reference: %s: failed to encode result: %w", cat.ToolName, err)
		}
		return string(out), nil
	}
}
