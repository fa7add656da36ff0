package character

import (
	"fmt"
	"strings"
)

// Sheet renders the character as plain text for LLM prompt injection. The
// layout is stable so narration prompts stay cache-friendly across turns
// that do not change the sheet.
func (c Character) Sheet() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Name: %s\n", c.Name)
	fmt.Fprintf(&sb, "Class: %s", c.Class)
	if c.Subclass != "" {
		fmt.Fprintf(&sb, " (%s)", c.Subclass)
	}
	fmt.Fprintf(&sb, ", level %d\n", c.Level)
	fmt.Fprintf(&sb, "Species: %s", c.Species)
	if c.Subspecies != "" {
		fmt.Fprintf(&sb, " (%s)", c.Subspecies)
	}
	sb.WriteByte('\n')
	if c.Background != "" {
		fmt.Fprintf(&sb, "Background: %s\n", c.Background)
	}
	if c.Alignment != "" {
		fmt.Fprintf(&sb, "Alignment: %s\n", c.Alignment)
	}

	fmt.Fprintf(&sb, "HP: %d/%d | AC: %d | Initiative: %+d | Speed: %d ft | XP: %d\n",
		c.HitPoints, c.MaxHitPoints, c.ArmorClass, c.Initiative, c.Speed, c.Experience)

	fmt.Fprintf(&sb, "Abilities: STR %d (%+d), DEX %d (%+d), CON %d (%+d), INT %d (%+d), WIS %d (%+d), CHA %d (%+d)\n",
		c.Abilities.Strength, Bonus(c.Abilities.Strength),
		c.Abilities.Dexterity, Bonus(c.Abilities.Dexterity),
		c.Abilities.Constitution, Bonus(c.Abilities.Constitution),
		c.Abilities.Intelligence, Bonus(c.Abilities.Intelligence),
		c.Abilities.Wisdom, Bonus(c.Abilities.Wisdom),
		c.Abilities.Charisma, Bonus(c.Abilities.Charisma))

	fmt.Fprintf(&sb, "Money: %d pp, %d gp, %d ep, %d sp, %d cp\n",
		c.Money.Platinum, c.Money.Gold, c.Money.Electrum, c.Money.Silver, c.Money.Copper)

	sb.WriteString("Equipment:\n")
	for _, cat := range EquipmentCategories() {
		items := c.Equipment.Category(cat)
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "  %s: %s\n", cat, strings.Join(items, ", "))
	}

	return sb.String()
}
