package game

import (
	"github.com/google/uuid"
)

// InventoryCapacity is the number of stacks a player can carry.
const InventoryCapacity = 36

// ItemStack is one occupied inventory slot.
type ItemStack struct {
	ItemID string `json:"itemId"`
	Count  int    `json:"count"`
	UUID   string `json:"uuid"`
}

// NewItemStack creates a stack with a fresh identifier.
func NewItemStack(itemID string, count int) ItemStack {
	return ItemStack{
		ItemID: itemID,
		Count:  count,
		UUID:   uuid.NewString(),
	}
}

// Valid reports whether the stack references a known item with a count in
// (0, MaxStack].
func (s ItemStack) Valid() bool {
	it, ok := LookupItem(s.ItemID)
	if !ok {
		return false
	}
	return s.Count > 0 && s.Count <= it.MaxStack
}

// repairInventory drops unknown or empty stacks, clamps overflowing counts,
// assigns missing identifiers and truncates to capacity. The returned slice
// never aliases items.
func repairInventory(items []ItemStack) ([]ItemStack, []string) {
	var problems []string
	out := make([]ItemStack, 0, len(items))

	for _, s := range items {
		it, ok := LookupItem(s.ItemID)
		if !ok {
			problems = append(problems, "dropped unknown item "+quote(s.ItemID))
			continue
		}
		if s.Count <= 0 {
			problems = append(problems, "dropped empty stack of "+s.ItemID)
			continue
		}
		if s.Count > it.MaxStack {
			problems = append(problems, "clamped stack of "+s.ItemID)
			s.Count = it.MaxStack
		}
		if s.UUID == "" {
			problems = append(problems, "assigned uuid to "+s.ItemID)
			s.UUID = uuid.NewString()
		}
		out = append(out, s)
	}

	if len(out) > InventoryCapacity {
		problems = append(problems, "truncated inventory to capacity")
		out = out[:InventoryCapacity]
	}

	return out, problems
}

func quote(s string) string {
	return "\"" + s + "\""
}
