package character

import (
	"fmt"
	"strings"
)

// HPChange records the outcome of an HP delta application.
type HPChange struct {
	// Previous is the HP before the delta.
	Previous int `json:"previousHP"`

	// New is the HP after clamping to [0, MaxHitPoints].
	New int `json:"newHP"`

	// Requested is the delta the caller asked for.
	Requested int `json:"requestedChange"`

	// Actual is New - Previous; differs from Requested when clamped.
	Actual int `json:"actualChange"`

	// Max is the character's maximum HP, echoed for display.
	Max int `json:"maxHP"`
}

// ApplyHPDelta returns a copy of ch with HitPoints adjusted by amount,
// clamped to [0, MaxHitPoints], plus a change record reporting the requested
// versus actual delta.
func ApplyHPDelta(ch Character, amount int) (Character, HPChange) {
	prev := ch.HitPoints
	next := prev + amount
	if next < 0 {
		next = 0
	}
	if next > ch.MaxHitPoints {
		next = ch.MaxHitPoints
	}
	ch.HitPoints = next
	return ch, HPChange{
		Previous:  prev,
		New:       next,
		Requested: amount,
		Actual:    next - prev,
		Max:       ch.MaxHitPoints,
	}
}

// CurrencyChange records the outcome of a currency delta application.
type CurrencyChange struct {
	Currency  CurrencyType `json:"currency"`
	Previous  int          `json:"previousAmount"`
	New       int          `json:"newAmount"`
	Requested int          `json:"requestedChange"`

	// Actual is New - Previous; differs from Requested when the balance
	// would have gone negative and was clamped at zero.
	Actual int `json:"actualChange"`
}

// ApplyCurrencyDelta returns a copy of ch with the given denomination
// adjusted by amount. Balances never go negative — an overdraft is clamped
// at zero and reported via Actual. Unknown denominations are an error and
// leave the character unchanged.
func ApplyCurrencyDelta(ch Character, currency CurrencyType, amount int) (Character, CurrencyChange, error) {
	if !currency.IsValid() {
		return ch, CurrencyChange{}, fmt.Errorf("character: unknown currency type %q; valid: platinum, gold, electrum, silver, copper", currency)
	}

	prev := ch.Money.Amount(currency)
	next := prev + amount
	if next < 0 {
		next = 0
	}
	ch.Money = ch.Money.withAmount(currency, next)
	return ch, CurrencyChange{
		Currency:  currency,
		Previous:  prev,
		New:       next,
		Requested: amount,
		Actual:    next - prev,
	}, nil
}

// InventoryChange records the outcome of an inventory add or remove.
type InventoryChange struct {
	Item     string            `json:"item"`
	Category EquipmentCategory `json:"category"`

	// Count is the number of items in the category after the change.
	Count int `json:"count"`
}

// AddItem returns a copy of ch with item appended to the given equipment
// category, preserving the item's case. Unknown categories are an error and
// leave the character unchanged.
func AddItem(ch Character, item string, category EquipmentCategory) (Character, InventoryChange, error) {
	if !category.IsValid() {
		return ch, InventoryChange{}, fmt.Errorf("character: unknown equipment category %q; valid: weapons, armor, tools, magicItems, items", category)
	}
	if strings.TrimSpace(item) == "" {
		return ch, InventoryChange{}, fmt.Errorf("character: item name must not be empty")
	}

	items := append(append([]string(nil), ch.Equipment.Category(category)...), item)
	ch.Equipment = ch.Equipment.withCategory(category, items)
	return ch, InventoryChange{Item: item, Category: category, Count: len(items)}, nil
}

// RemoveItem returns a copy of ch with the first case-insensitive match of
// item removed from the given equipment category. When the item is not
// present the character is unchanged and the error message lists the items
// actually in the category.
func RemoveItem(ch Character, item string, category EquipmentCategory) (Character, InventoryChange, error) {
	if !category.IsValid() {
		return ch, InventoryChange{}, fmt.Errorf("character: unknown equipment category %q; valid: weapons, armor, tools, magicItems, items", category)
	}

	current := ch.Equipment.Category(category)
	idx := -1
	for i, have := range current {
		if strings.EqualFold(have, item) {
			idx = i
			break
		}
	}
	if idx == -1 {
		if len(current) == 0 {
			return ch, InventoryChange{}, fmt.Errorf("character: %q not found in %s (category is empty)", item, category)
		}
		return ch, InventoryChange{}, fmt.Errorf("character: %q not found in %s; available: %s", item, category, strings.Join(current, ", "))
	}

	// Removed holds the stored casing, which may differ from the input.
	removed := current[idx]
	items := make([]string, 0, len(current)-1)
	items = append(items, current[:idx]...)
	items = append(items, current[idx+1:]...)
	ch.Equipment = ch.Equipment.withCategory(category, items)
	return ch, InventoryChange{Item: removed, Category: category, Count: len(items)}, nil
}

// XPChange records the outcome of an experience delta application.
type XPChange struct {
	Previous  int `json:"previousXP"`
	New       int `json:"newXP"`
	Requested int `json:"requestedChange"`
}

// ApplyXPDelta returns a copy of ch with Experience adjusted by amount.
// XP is deliberately unclamped — rare rulings can take it negative.
func ApplyXPDelta(ch Character, amount int) (Character, XPChange) {
	prev := ch.Experience
	ch.Experience = prev + amount
	return ch, XPChange{Previous: prev, New: ch.Experience, Requested: amount}
}
