package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/openquill/dmforge/internal/character"
	"github.com/openquill/dmforge/internal/tool"
)

// Notification is a user-facing change event emitted after a successful
// sheet mutation. Subscribers (the websocket event feed) render it as a
// toast.
type Notification struct {
	CharacterID string `json:"characterId"`
	Tool        string `json:"tool"`
	Message     string `json:"message"`
	Reason      string `json:"reason,omitempty"`
}

// NotifyFunc receives change notifications. A nil NotifyFunc is valid and
// drops them.
type NotifyFunc func(ctx context.Context, n Notification)

// Binder connects the sheet commands to their runtime collaborators: the
// character store, the currently active character, and the notification
// sink. The registered handlers own the read-modify-write cycle so that the
// commands stay pure.
type Binder struct {
	store  character.Store
	active func(ctx context.Context) (string, error)
	notify NotifyFunc
}

// NewBinder builds a Binder. active resolves the character the current turn
// acts on; it is supplied by the session rather than read from ambient
// state so tests can pin it.
func NewBinder(store character.Store, active func(ctx context.Context) (string, error), notify NotifyFunc) (*Binder, error) {
	if store == nil {
		return nil, errors.New("sheet: store must not be nil")
	}
	if active == nil {
		return nil, errors.New("sheet: active character resolver must not be nil")
	}
	return &Binder{store: store, active: active, notify: notify}, nil
}

// Execute decodes and applies one sheet mutation against the active
// character. Validation and application failures come back as a structured
// Result with Success=false; a Go error is reserved for infrastructure
// faults (store unreachable, no active character).
func (b *Binder) Execute(ctx context.Context, toolName string, params json.RawMessage) (Result, error) {
	cmd, err := Decode(toolName, params)
	if err != nil {
		return Result{Success: false, Tool: toolName, Error: err.Error()}, nil
	}

	id, err := b.active(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sheet: resolve active character: %w", err)
	}
	ch, err := b.store.Get(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("sheet: load character %s: %w", id, err)
	}

	next, res := cmd.Apply(ch)
	if !res.Success {
		return res, nil
	}

	if _, err := b.store.Update(ctx, next); err != nil {
		return Result{}, fmt.Errorf("sheet: persist character %s: %w", id, err)
	}
	if b.notify != nil {
		b.notify(ctx, Notification{
			CharacterID: id,
			Tool:        res.Tool,
			Message:     res.Notification,
			Reason:      res.Reason,
		})
	}
	return res, nil
}

// Tools returns the five sheet tools ready for registry registration. Each
// handler runs Binder.Execute and marshals the Result; the tool layer never
// sees a validation failure as an error.
func (b *Binder) Tools() []tool.Tool {
	reason := tool.Parameter{Name: "reason", Type: "string", Description: "Narrative reason for the change", Required: true}
	defs := []tool.Definition{
		{
			Name:        ToolUpdateHitPoints,
			Description: "Adjust the character's hit points by a positive (healing) or negative (damage) amount. HP is clamped between 0 and the maximum.",
			Parameters: []tool.Parameter{
				{Name: "amount", Type: "number", Description: "HP change, negative for damage", Required: true},
				reason,
			},
		},
		{
			Name:        ToolUpdateCurrency,
			Description: "Adjust one currency denomination by a positive or negative amount. Balances never go below zero.",
			Parameters: []tool.Parameter{
				{Name: "currency_type", Type: "string", Description: "One of: platinum, gold, electrum, silver, copper", Required: true},
				{Name: "amount", Type: "number", Description: "Coin change, negative when spent", Required: true},
				reason,
			},
		},
		{
			Name:        ToolAddInventoryItem,
			Description: "Add an item to the character's inventory in one category.",
			Parameters: []tool.Parameter{
				{Name: "item_name", Type: "string", Description: "Item to add", Required: true},
				{Name: "category", Type: "string", Description: "One of: weapons, armor, tools, magicItems, items", Required: true},
				reason,
			},
		},
		{
			Name:        ToolRemoveInventoryItem,
			Description: "Remove an item from the character's inventory. The name match ignores letter case.",
			Parameters: []tool.Parameter{
				{Name: "item_name", Type: "string", Description: "Item to remove", Required: true},
				{Name: "category", Type: "string", Description: "One of: weapons, armor, tools, magicItems, items", Required: true},
				reason,
			},
		},
		{
			Name:        ToolUpdateExperience,
			Description: "Adjust the character's experience points. XP may go negative when a penalty exceeds the current total.",
			Parameters: []tool.Parameter{
				{Name: "amount", Type: "number", Description: "XP change", Required: true},
				reason,
			},
		},
	}

	tools := make([]tool.Tool, 0, len(defs))
	for _, def := range defs {
		def := def
		tools = append(tools, tool.Tool{
			Definition: def,
			Handler: func(ctx context.Context, args string) (string, error) {
				res, err := b.Execute(ctx, def.Name, json.RawMessage(args))
				if err != nil {
					return "", err
				}
				out, merr := json.Marshal(res)
				if merr != nil {
					return "", fmt.Errorf("sheet: marshal result: %w", merr)
				}
				return string(out), nil
			},
		})
	}
	return tools
}

// FixedActive returns an active-character resolver that always yields id.
// Convenient for the single-player session and for tests.
func FixedActive(id string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) { return id, nil }
}

// Selection is a mutable active-character holder. The HTTP layer sets it
// when the player picks a character; the Binder reads it on every mutation.
// Safe for concurrent use.
type Selection struct {
	mu sync.Mutex
	id string
}

// Set replaces the active character ID. An empty id clears the selection.
func (s *Selection) Set(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// ID returns the current selection, or "" when none is set.
func (s *Selection) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Active resolves the selection for [NewBinder]. It fails when no character
// has been chosen yet.
func (s *Selection) Active(ctx context.Context) (string, error) {
	if id := s.ID(); id != "" {
		return id, nil
	}
	return "", errors.New("sheet: no active character selected")
}
