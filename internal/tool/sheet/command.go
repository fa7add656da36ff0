// Package sheet implements the character-state tools: the five operations
// the Dungeon Master LLM may request to mutate the player's sheet (hit
// points, currency, inventory add/remove, experience).
//
// LLM output is decoded into a closed command union ([Decode]) with
// exhaustive validation — unknown tool tags and malformed payloads are
// rejected explicitly rather than deferred to a runtime map lookup. Each
// command is a pure function over a character snapshot; the store
// read-modify-write lives in the registered tool handlers ([Tools]), so the
// commands themselves are trivially testable.
package sheet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/openquill/dmforge/internal/character"
)

// Tool name constants for the five sheet mutations.
const (
	ToolUpdateHitPoints     = "update_hit_points"
	ToolUpdateCurrency      = "update_currency"
	ToolAddInventoryItem    = "add_inventory_item"
	ToolRemoveInventoryItem = "remove_inventory_item"
	ToolUpdateExperience    = "update_experience"
)

// Result is the uniform JSON answer of every sheet tool. Validation and
// application failures set Success=false and Error; they are never surfaced
// as Go errors, so a hallucinated delta degrades to a structured refusal.
type Result struct {
	Success bool   `json:"success"`
	Tool    string `json:"tool"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// Notification is the user-facing toast text describing the change.
	Notification string `json:"notification,omitempty"`

	// Change carries the typed change record (HP, currency, inventory or XP)
	// with previous/new values and the actual applied delta.
	Change any `json:"change,omitempty"`
}

// Command is one validated sheet mutation. Implementations are the closed
// set of command types in this package; there is no way to construct one
// for an unknown tool.
type Command interface {
	// Tool returns the tool name this command was decoded from.
	Tool() string

	// Reason returns the narrative justification supplied by the LLM.
	Reason() string

	// Apply computes the mutation against a snapshot and returns the new
	// snapshot plus the outcome. Apply never modifies ch in place.
	Apply(ch character.Character) (character.Character, Result)
}

// flexInt decodes a JSON number, a numeric string, or null (zero). LLMs
// routinely quote numbers, so the coercion lives in the decode layer rather
// than in every prompt.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*f = 0
		return nil
	}
	// Accept "-3.0" style output by dropping a trailing fraction of zero.
	if v, err := strconv.Atoi(s); err == nil {
		*f = flexInt(v)
		return nil
	}
	fv, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexInt(int(fv))
	return nil
}

// UpdateHitPoints adjusts HP by Amount, clamped to [0, max].
type UpdateHitPoints struct {
	Amount int
	Why    string
}

func (c UpdateHitPoints) Tool() string   { return ToolUpdateHitPoints }
func (c UpdateHitPoints) Reason() string { return c.Why }

func (c UpdateHitPoints) Apply(ch character.Character) (character.Character, Result) {
	next, change := character.ApplyHPDelta(ch, c.Amount)
	return next, Result{
		Success:      true,
		Tool:         c.Tool(),
		Reason:       c.Why,
		Notification: fmt.Sprintf("HP %d → %d of %d (%s)", change.Previous, change.New, change.Max, c.Why),
		Change:       change,
	}
}

// UpdateCurrency adjusts one denomination by Amount, clamped at zero.
type UpdateCurrency struct {
	Currency character.CurrencyType
	Amount   int
	Why      string
}

func (c UpdateCurrency) Tool() string   { return ToolUpdateCurrency }
func (c UpdateCurrency) Reason() string { return c.Why }

func (c UpdateCurrency) Apply(ch character.Character) (character.Character, Result) {
	next, change, err := character.ApplyCurrencyDelta(ch, c.Currency, c.Amount)
	if err != nil {
		return ch, Result{Success: false, Tool: c.Tool(), Error: err.Error(), Reason: c.Why}
	}
	return next, Result{
		Success:      true,
		Tool:         c.Tool(),
		Reason:       c.Why,
		Notification: fmt.Sprintf("%s %d → %d (%s)", c.Currency, change.Previous, change.New, c.Why),
		Change:       change,
	}
}

// AddInventoryItem appends an item to one equipment category.
type AddInventoryItem struct {
	Item     string
	Category character.EquipmentCategory
	Why      string
}

func (c AddInventoryItem) Tool() string   { return ToolAddInventoryItem }
func (c AddInventoryItem) Reason() string { return c.Why }

func (c AddInventoryItem) Apply(ch character.Character) (character.Character, Result) {
	next, change, err := character.AddItem(ch, c.Item, c.Category)
	if err != nil {
		return ch, Result{Success: false, Tool: c.Tool(), Error: err.Error(), Reason: c.Why}
	}
	return next, Result{
		Success:      true,
		Tool:         c.Tool(),
		Reason:       c.Why,
		Notification: fmt.Sprintf("Gained %s (%s): %s", change.Item, change.Category, c.Why),
		Change:       change,
	}
}

// RemoveInventoryItem removes the first case-insensitive match from one
// equipment category.
type RemoveInventoryItem struct {
	Item     string
	Category character.EquipmentCategory
	Why      string
}

func (c RemoveInventoryItem) Tool() string   { return ToolRemoveInventoryItem }
func (c RemoveInventoryItem) Reason() string { return c.Why }

func (c RemoveInventoryItem) Apply(ch character.Character) (character.Character, Result) {
	next, change, err := character.RemoveItem(ch, c.Item, c.Category)
	if err != nil {
		return ch, Result{Success: false, Tool: c.Tool(), Error: err.Error(), Reason: c.Why}
	}
	return next, Result{
		Success:      true,
		Tool:         c.Tool(),
		Reason:       c.Why,
		Notification: fmt.Sprintf("Lost %s (%s): %s", change.Item, change.Category, c.Why),
		Change:       change,
	}
}

// UpdateExperience adjusts XP by Amount, unclamped.
type UpdateExperience struct {
	Amount int
	Why    string
}

func (c UpdateExperience) Tool() string   { return ToolUpdateExperience }
func (c UpdateExperience) Reason() string { return c.Why }

func (c UpdateExperience) Apply(ch character.Character) (character.Character, Result) {
	next, change := character.ApplyXPDelta(ch, c.Amount)
	return next, Result{
		Success:      true,
		Tool:         c.Tool(),
		Reason:       c.Why,
		Notification: fmt.Sprintf("XP %d → %d (%s)", change.Previous, change.New, c.Why),
		Change:       change,
	}
}

// Decode converts a tool name plus raw params JSON into a validated
// [Command]. Unknown tool names and malformed payloads are errors — the
// caller decides whether to surface them loudly (registry path) or as a
// structured Result (handler path).
func Decode(toolName string, params json.RawMessage) (Command, error) {
	switch toolName {
	case ToolUpdateHitPoints:
		var p struct {
			Amount flexInt `json:"amount"`
			Reason string  `json:"reason"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("sheet: %s: %w", toolName, err)
		}
		return UpdateHitPoints{Amount: int(p.Amount), Why: defaultReason(p.Reason)}, nil

	case ToolUpdateCurrency:
		var p struct {
			CurrencyType string  `json:"currency_type"`
			Amount       flexInt `json:"amount"`
			Reason       string  `json:"reason"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("sheet: %s: %w", toolName, err)
		}
		cur := character.CurrencyType(strings.ToLower(strings.TrimSpace(p.CurrencyType)))
		if !cur.IsValid() {
			return nil, fmt.Errorf("sheet: %s: unknown currency type %q; valid: platinum, gold, electrum, silver, copper", toolName, p.CurrencyType)
		}
		return UpdateCurrency{Currency: cur, Amount: int(p.Amount), Why: defaultReason(p.Reason)}, nil

	case ToolAddInventoryItem, ToolRemoveInventoryItem:
		var p struct {
			ItemName string `json:"item_name"`
			Category string `json:"category"`
			Reason   string `json:"reason"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("sheet: %s: %w", toolName, err)
		}
		cat, err := normalizeCategory(p.Category)
		if err != nil {
			return nil, fmt.Errorf("sheet: %s: %w", toolName, err)
		}
		if strings.TrimSpace(p.ItemName) == "" {
			return nil, fmt.Errorf("sheet: %s: item_name must not be empty", toolName)
		}
		if toolName == ToolAddInventoryItem {
			return AddInventoryItem{Item: p.ItemName, Category: cat, Why: defaultReason(p.Reason)}, nil
		}
		return RemoveInventoryItem{Item: p.ItemName, Category: cat, Why: defaultReason(p.Reason)}, nil

	case ToolUpdateExperience:
		var p struct {
			Amount flexInt `json:"amount"`
			Reason string  `json:"reason"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("sheet: %s: %w", toolName, err)
		}
		return UpdateExperience{Amount: int(p.Amount), Why: defaultReason(p.Reason)}, nil

	default:
		return nil, fmt.Errorf("sheet: unknown tool %q", toolName)
	}
}

// normalizeCategory maps LLM category spellings onto the closed category
// set. Only whitespace and letter case are forgiven; anything else is an
// unknown category.
func normalizeCategory(raw string) (character.EquipmentCategory, error) {
	trimmed := strings.TrimSpace(raw)
	for _, c := range character.EquipmentCategories() {
		if strings.EqualFold(string(c), trimmed) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown equipment category %q; valid: weapons, armor, tools, magicItems, items", raw)
}

// defaultReason substitutes a neutral reason when the LLM omitted one.
func defaultReason(r string) string {
	if strings.TrimSpace(r) == "" {
		return "story event"
	}
	return r
}
