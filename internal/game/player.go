package game

import (
	"log/slog"
	"math"
	"strings"
)

// Direction is the way a player is facing.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Valid reports whether d is one of the four facing directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		return true
	default:
		return false
	}
}

// PlayerRecord is the durable snapshot of one player in one world.
type PlayerRecord struct {
	Username       string            `json:"username"`
	X              float64           `json:"x"`
	Y              float64           `json:"y"`
	Direction      Direction         `json:"direction"`
	IsMoving       bool              `json:"isMoving"`
	IsRunning      bool              `json:"isRunning"`
	InventoryItems []ItemStack       `json:"inventoryItems"`
	PartyCreatures []*CreatureRecord `json:"partyCreatures"`
}

// NewPlayerRecord creates a record for a player who has never been saved.
func NewPlayerRecord(username string) *PlayerRecord {
	return &PlayerRecord{
		Username:       username,
		Direction:      DirectionDown,
		InventoryItems: []ItemStack{},
		PartyCreatures: make([]*CreatureRecord, MaxParty),
	}
}

// Clone returns a deep copy of the record. A nil record clones to nil.
func (p *PlayerRecord) Clone() *PlayerRecord {
	if p == nil {
		return nil
	}

	out := *p
	if p.InventoryItems != nil {
		out.InventoryItems = make([]ItemStack, len(p.InventoryItems))
		copy(out.InventoryItems, p.InventoryItems)
	}
	if p.PartyCreatures != nil {
		out.PartyCreatures = make([]*CreatureRecord, len(p.PartyCreatures))
		for i, c := range p.PartyCreatures {
			out.PartyCreatures[i] = c.Clone()
		}
	}
	return &out
}

// IsEmpty reports whether the record carries no player state at all.
func (p *PlayerRecord) IsEmpty() bool {
	if p == nil {
		return true
	}
	if p.Username != "" || p.X != 0 || p.Y != 0 || len(p.InventoryItems) > 0 {
		return false
	}
	for _, c := range p.PartyCreatures {
		if c != nil {
			return false
		}
	}
	return true
}

// Completeness scores how much recoverable state the record holds. It is used
// to decide which of two copies of the same player should win a merge.
func (p *PlayerRecord) Completeness() int {
	if p == nil {
		return 0
	}

	score := 0
	if p.Username != "" {
		score++
	}
	if p.X != 0 || p.Y != 0 {
		score++
	}
	for _, s := range p.InventoryItems {
		if s.Valid() {
			score++
		}
	}
	for _, c := range p.PartyCreatures {
		if c != nil && c.Species != "" {
			score++
		}
	}
	return score
}

// Repair brings the record back within its invariants: missing fields are
// defaulted, invalid inventory slots dropped and the party normalized to
// exactly MaxParty slots. key is the username the record is stored under.
// Repair is idempotent and reports whether anything changed.
func (p *PlayerRecord) Repair(key string) bool {
	var problems []string

	key = strings.TrimSpace(key)
	if p.Username == "" && key != "" {
		p.Username = key
		problems = append(problems, "defaulted username")
	}

	if !p.Direction.Valid() {
		p.Direction = DirectionDown
		problems = append(problems, "defaulted direction")
	}

	if math.IsNaN(p.X) || math.IsInf(p.X, 0) {
		p.X = 0
		problems = append(problems, "reset x")
	}
	if math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
		p.Y = 0
		problems = append(problems, "reset y")
	}

	if p.InventoryItems == nil {
		p.InventoryItems = []ItemStack{}
		problems = append(problems, "defaulted inventory")
	} else {
		items, invProblems := repairInventory(p.InventoryItems)
		if len(invProblems) > 0 {
			p.InventoryItems = items
			problems = append(problems, invProblems...)
		}
	}

	party, partyProblems := repairParty(p.PartyCreatures)
	if len(partyProblems) > 0 {
		p.PartyCreatures = party
		problems = append(problems, partyProblems...)
	}

	if len(problems) == 0 {
		return false
	}

	slog.Warn("repaired player record", "username", p.Username, "repairs", problems)
	return true
}

func repairParty(party []*CreatureRecord) ([]*CreatureRecord, []string) {
	var problems []string

	if party == nil {
		return make([]*CreatureRecord, MaxParty), []string{"defaulted party"}
	}

	out := make([]*CreatureRecord, MaxParty)
	for i, c := range party {
		if i >= MaxParty {
			if c != nil {
				problems = append(problems, "dropped creature beyond party size")
			}
			continue
		}
		if c == nil {
			continue
		}

		fixed := c.Clone()
		ok, changed := fixed.repair()
		if !ok {
			problems = append(problems, "emptied unrecoverable party slot")
			continue
		}
		if changed {
			problems = append(problems, "repaired creature "+fixed.Species)
		}
		out[i] = fixed
	}

	if len(party) != MaxParty {
		problems = append(problems, "resized party")
	}

	return out, problems
}
