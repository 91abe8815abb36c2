package game

// ItemType describes a kind of item the game knows about.
type ItemType struct {
	ID       string
	Name     string
	MaxStack int
}

const (
	toolStack       = 1
	consumableStack = 16
	materialStack   = 64
)

// Items is the registry of every item id a saved inventory may contain.
// Slots referencing ids outside this registry are dropped during repair.
var Items = map[string]ItemType{
	"wood_log":       {ID: "wood_log", Name: "Wood Log", MaxStack: materialStack},
	"wooden_planks":  {ID: "wooden_planks", Name: "Wooden Planks", MaxStack: materialStack},
	"stick":          {ID: "stick", Name: "Stick", MaxStack: materialStack},
	"stone":          {ID: "stone", Name: "Stone", MaxStack: materialStack},
	"dirt":           {ID: "dirt", Name: "Dirt", MaxStack: materialStack},
	"sand":           {ID: "sand", Name: "Sand", MaxStack: materialStack},
	"crafting_table": {ID: "crafting_table", Name: "Crafting Table", MaxStack: materialStack},
	"chest":          {ID: "chest", Name: "Chest", MaxStack: materialStack},
	"wooden_axe":     {ID: "wooden_axe", Name: "Wooden Axe", MaxStack: toolStack},
	"wooden_pickaxe": {ID: "wooden_pickaxe", Name: "Wooden Pickaxe", MaxStack: toolStack},
	"stone_axe":      {ID: "stone_axe", Name: "Stone Axe", MaxStack: toolStack},
	"stone_pickaxe":  {ID: "stone_pickaxe", Name: "Stone Pickaxe", MaxStack: toolStack},
	"apple":          {ID: "apple", Name: "Apple", MaxStack: consumableStack},
	"berry":          {ID: "berry", Name: "Berry", MaxStack: consumableStack},
	"potion":         {ID: "potion", Name: "Potion", MaxStack: consumableStack},
	"super_potion":   {ID: "super_potion", Name: "Super Potion", MaxStack: consumableStack},
	"pokeball":       {ID: "pokeball", Name: "Poke Ball", MaxStack: consumableStack},
	"great_ball":     {ID: "great_ball", Name: "Great Ball", MaxStack: consumableStack},
}

// LookupItem returns the registered item type for id.
func LookupItem(id string) (ItemType, bool) {
	it, ok := Items[id]
	return it, ok
}
