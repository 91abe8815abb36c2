package game

import (
	"github.com/google/uuid"
)

// MaxParty is the fixed number of party slots on every player record.
const MaxParty = 6

const (
	minCreatureLevel = 1
	maxCreatureLevel = 100
)

// CreatureRecord is a captured creature carried in a player's party.
type CreatureRecord struct {
	UUID       string   `json:"uuid"`
	Species    string   `json:"species"`
	Nickname   string   `json:"nickname,omitempty"`
	Level      int      `json:"level"`
	CurrentHP  int      `json:"currentHp"`
	MaxHP      int      `json:"maxHp"`
	Experience int      `json:"experience"`
	Moves      []string `json:"moves,omitempty"`
}

// NewCreatureRecord creates a full-health creature of the given species.
func NewCreatureRecord(species string, level int, maxHP int) *CreatureRecord {
	return &CreatureRecord{
		UUID:      uuid.NewString(),
		Species:   species,
		Level:     level,
		CurrentHP: maxHP,
		MaxHP:     maxHP,
	}
}

// Clone returns a deep copy of the creature. A nil creature clones to nil.
func (c *CreatureRecord) Clone() *CreatureRecord {
	if c == nil {
		return nil
	}
	out := *c
	if c.Moves != nil {
		out.Moves = append([]string(nil), c.Moves...)
	}
	return &out
}

// repair fixes out of range stats in place. It reports false when the
// creature cannot be recovered and should become an empty slot.
func (c *CreatureRecord) repair() (ok bool, changed bool) {
	if c.Species == "" {
		return false, true
	}

	if c.UUID == "" {
		c.UUID = uuid.NewString()
		changed = true
	}
	if c.Level < minCreatureLevel {
		c.Level = minCreatureLevel
		changed = true
	} else if c.Level > maxCreatureLevel {
		c.Level = maxCreatureLevel
		changed = true
	}
	if c.MaxHP < 1 {
		c.MaxHP = 1
		changed = true
	}
	if c.CurrentHP < 0 {
		c.CurrentHP = 0
		changed = true
	} else if c.CurrentHP > c.MaxHP {
		c.CurrentHP = c.MaxHP
		changed = true
	}
	if c.Experience < 0 {
		c.Experience = 0
		changed = true
	}

	return true, changed
}
