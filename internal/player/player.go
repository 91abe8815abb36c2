package player

import (
	"sync"
	"time"

	"github.com/pixil98/go-worldstate/internal/game"
)

// OnlinePlayer is the transient server-side session of a connected user. It
// is never persisted directly; Snapshot folds it into a PlayerRecord.
type OnlinePlayer struct {
	username  string
	sessionID string

	mu           sync.Mutex
	x, y         float64
	direction    game.Direction
	moving       bool
	running      bool
	inventory    []game.ItemStack
	party        []*game.CreatureRecord
	loggedInAt   time.Time
	lastActivity time.Time
}

func newOnlinePlayer(username, sessionID string, rec *game.PlayerRecord, now time.Time) *OnlinePlayer {
	p := &OnlinePlayer{
		username:     username,
		sessionID:    sessionID,
		loggedInAt:   now,
		lastActivity: now,
	}
	p.apply(rec)
	return p
}

func (p *OnlinePlayer) Username() string {
	return p.username
}

func (p *OnlinePlayer) SessionID() string {
	return p.sessionID
}

func (p *OnlinePlayer) LoggedInAt() time.Time {
	return p.loggedInAt
}

func (p *OnlinePlayer) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

func (p *OnlinePlayer) Position() (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x, p.y
}

func (p *OnlinePlayer) Direction() game.Direction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.direction
}

// Move updates the position and movement flags.
func (p *OnlinePlayer) Move(x, y float64, dir game.Direction, moving, running bool, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.x, p.y = x, y
	if dir.Valid() {
		p.direction = dir
	}
	p.moving = moving
	p.running = running
	p.lastActivity = now
}

// ApplyState replaces the session state with a client's state update.
func (p *OnlinePlayer) ApplyState(rec *game.PlayerRecord, now time.Time) {
	if rec == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.apply(rec)
	p.lastActivity = now
}

func (p *OnlinePlayer) apply(rec *game.PlayerRecord) {
	rec = rec.Clone()
	rec.Repair(p.username)

	p.x, p.y = rec.X, rec.Y
	p.direction = rec.Direction
	p.moving = rec.IsMoving
	p.running = rec.IsRunning
	p.inventory = rec.InventoryItems
	p.party = rec.PartyCreatures
}

// Snapshot returns the session as a standalone PlayerRecord.
func (p *OnlinePlayer) Snapshot() *game.PlayerRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := &game.PlayerRecord{
		Username:       p.username,
		X:              p.x,
		Y:              p.y,
		Direction:      p.direction,
		IsMoving:       p.moving,
		IsRunning:      p.running,
		InventoryItems: p.inventory,
		PartyCreatures: p.party,
	}
	return rec.Clone()
}
