// Package character defines the player character sheet and the pure delta
// operations that mutate it.
//
// All state changes flow through the Apply* functions, which take a snapshot
// and return the new snapshot plus a change record — the caller (the DM
// orchestration layer) owns the read-modify-write against the [Store]. The
// character is never overwritten wholesale from LLM output outside the
// character-creation flow.
package character

import "time"

// CurrencyType is one of the five coin denominations on the money ledger.
type CurrencyType string

const (
	Platinum CurrencyType = "platinum"
	Gold     CurrencyType = "gold"
	Electrum CurrencyType = "electrum"
	Silver   CurrencyType = "silver"
	Copper   CurrencyType = "copper"
)

// IsValid reports whether c is a recognised denomination.
func (c CurrencyType) IsValid() bool {
	switch c {
	case Platinum, Gold, Electrum, Silver, Copper:
		return true
	}
	return false
}

// CurrencyTypes lists all denominations in descending value order.
func CurrencyTypes() []CurrencyType {
	return []CurrencyType{Platinum, Gold, Electrum, Silver, Copper}
}

// EquipmentCategory is one of the five fixed equipment slots. The set is
// closed — adds and removes against any other category are rejected.
type EquipmentCategory string

const (
	Weapons    EquipmentCategory = "weapons"
	Armor      EquipmentCategory = "armor"
	Tools      EquipmentCategory = "tools"
	MagicItems EquipmentCategory = "magicItems"
	Items      EquipmentCategory = "items"
)

// IsValid reports whether e is a recognised category.
func (e EquipmentCategory) IsValid() bool {
	switch e {
	case Weapons, Armor, Tools, MagicItems, Items:
		return true
	}
	return false
}

// EquipmentCategories lists all categories in sheet display order.
func EquipmentCategories() []EquipmentCategory {
	return []EquipmentCategory{Weapons, Armor, Tools, MagicItems, Items}
}

// AbilityScores holds the six D&D ability scores.
type AbilityScores struct {
	Strength     int `json:"strength" yaml:"strength"`
	Dexterity    int `json:"dexterity" yaml:"dexterity"`
	Constitution int `json:"constitution" yaml:"constitution"`
	Intelligence int `json:"intelligence" yaml:"intelligence"`
	Wisdom       int `json:"wisdom" yaml:"wisdom"`
	Charisma     int `json:"charisma" yaml:"charisma"`
}

// Bonus returns the derived ability modifier for a raw score:
// floor((value-10)/2). Integer division truncates toward zero, so the
// negative side is computed explicitly.
func Bonus(score int) int {
	d := score - 10
	if d < 0 {
		return -((-d + 1) / 2)
	}
	return d / 2
}

// Money is the five-denomination coin ledger. Every field is a non-negative
// integer; deltas that would go below zero are clamped at application time.
type Money struct {
	Platinum int `json:"platinum" yaml:"platinum"`
	Gold     int `json:"gold" yaml:"gold"`
	Electrum int `json:"electrum" yaml:"electrum"`
	Silver   int `json:"silver" yaml:"silver"`
	Copper   int `json:"copper" yaml:"copper"`
}

// Amount returns the balance for the given denomination.
func (m Money) Amount(c CurrencyType) int {
	switch c {
	case Platinum:
		return m.Platinum
	case Gold:
		return m.Gold
	case Electrum:
		return m.Electrum
	case Silver:
		return m.Silver
	case Copper:
		return m.Copper
	}
	return 0
}

// withAmount returns a copy of m with the given denomination set to v.
func (m Money) withAmount(c CurrencyType, v int) Money {
	switch c {
	case Platinum:
		m.Platinum = v
	case Gold:
		m.Gold = v
	case Electrum:
		m.Electrum = v
	case Silver:
		m.Silver = v
	case Copper:
		m.Copper = v
	}
	return m
}

// Equipment partitions carried items into the five fixed categories. Each
// list is ordered; duplicates are permitted; case is preserved on add and
// matched case-insensitively on remove.
type Equipment struct {
	Weapons    []string `json:"weapons" yaml:"weapons"`
	Armor      []string `json:"armor" yaml:"armor"`
	Tools      []string `json:"tools" yaml:"tools"`
	MagicItems []string `json:"magicItems" yaml:"magic_items"`
	Items      []string `json:"items" yaml:"items"`
}

// Category returns the item list for the given category.
func (e Equipment) Category(c EquipmentCategory) []string {
	switch c {
	case Weapons:
		return e.Weapons
	case Armor:
		return e.Armor
	case Tools:
		return e.Tools
	case MagicItems:
		return e.MagicItems
	case Items:
		return e.Items
	}
	return nil
}

// withCategory returns a copy of e with the given category replaced by items.
func (e Equipment) withCategory(c EquipmentCategory, items []string) Equipment {
	switch c {
	case Weapons:
		e.Weapons = items
	case Armor:
		e.Armor = items
	case Tools:
		e.Tools = items
	case MagicItems:
		e.MagicItems = items
	case Items:
		e.Items = items
	}
	return e
}

// Character is the mutable game-state entity: one player character sheet.
type Character struct {
	// ID is a unique identifier, auto-generated on creation when empty.
	ID string `json:"id" yaml:"id"`

	// --- Identity ---

	Name       string `json:"name" yaml:"name"`
	Species    string `json:"species" yaml:"species"`
	Subspecies string `json:"subspecies,omitempty" yaml:"subspecies,omitempty"`
	Background string `json:"background" yaml:"background"`
	Alignment  string `json:"alignment" yaml:"alignment"`
	Class      string `json:"class" yaml:"class"`
	Subclass   string `json:"subclass,omitempty" yaml:"subclass,omitempty"`
	Level      int    `json:"level" yaml:"level"`

	// --- Numeric stats ---

	HitPoints    int `json:"hitPoints" yaml:"hit_points"`
	MaxHitPoints int `json:"maxHitPoints" yaml:"max_hit_points"`
	ArmorClass   int `json:"armorClass" yaml:"armor_class"`
	Initiative   int `json:"initiative" yaml:"initiative"`
	Speed        int `json:"speed" yaml:"speed"`
	Experience   int `json:"experience" yaml:"experience"`

	Abilities AbilityScores `json:"abilities" yaml:"abilities"`
	Money     Money         `json:"money" yaml:"money"`
	Equipment Equipment     `json:"equipment" yaml:"equipment"`

	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// Clone returns a deep copy of the character. Equipment slices are copied so
// delta application never aliases the stored snapshot.
func (c Character) Clone() Character {
	c.Equipment.Weapons = append([]string(nil), c.Equipment.Weapons...)
	c.Equipment.Armor = append([]string(nil), c.Equipment.Armor...)
	c.Equipment.Tools = append([]string(nil), c.Equipment.Tools...)
	c.Equipment.MagicItems = append([]string(nil), c.Equipment.MagicItems...)
	c.Equipment.Items = append([]string(nil), c.Equipment.Items...)
	return c
}
