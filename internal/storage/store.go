package storage

import (
	"sort"
	"sync"

	"github.com/pixil98/go-worldstate/internal/game"
)

// StorageSystem persists player and world records. Implementations are
// read-through, write-through caches and hand out deep copies only.
type StorageSystem interface {
	Init() error

	SavePlayer(username string, rec *game.PlayerRecord) error
	// LoadPlayer returns ErrNotFound when there is no readable record.
	LoadPlayer(username string) (*game.PlayerRecord, error)

	// SaveWorld durably writes w and returns the copy that was read back and
	// verified. On error the previous durable copy is untouched.
	SaveWorld(name string, w *game.WorldData) (*game.WorldData, error)
	// LoadWorld returns ErrNotFound for a missing world and a *CorruptError
	// for one that cannot be parsed.
	LoadWorld(name string) (*game.WorldData, error)
	DeleteWorld(name string) error
	ListWorlds() ([]string, error)

	// BackupWorld copies the current durable world to a timestamped backup
	// and returns its path, or "" when there is nothing to back up.
	BackupWorld(name string) (string, error)
	ListBackups(name string) ([]string, error)
	LoadBackup(path string) (*game.WorldData, error)
	// QuarantineWorld moves a corrupt world aside so a fresh one can take
	// its name.
	QuarantineWorld(name string) error

	ClearCache()
	// Shutdown flushes records whose durable write failed. Failures are
	// logged, not returned.
	Shutdown()
}

// recordCache is the in-memory half shared by both backends.
type recordCache struct {
	mu      sync.RWMutex
	worlds  map[string]*game.WorldData
	players map[string]*game.PlayerRecord

	// pending holds players cached but not yet durable.
	pending map[string]struct{}
}

func newRecordCache() *recordCache {
	return &recordCache{
		worlds:  map[string]*game.WorldData{},
		players: map[string]*game.PlayerRecord{},
		pending: map[string]struct{}{},
	}
}

func (c *recordCache) world(name string) (*game.WorldData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w, ok := c.worlds[name]
	if !ok {
		return nil, false
	}
	return w.Copy(), true
}

func (c *recordCache) putWorld(name string, w *game.WorldData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.worlds[name] = w.Copy()
}

func (c *recordCache) deleteWorld(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.worlds, name)
}

func (c *recordCache) player(username string) (*game.PlayerRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.players[username]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (c *recordCache) putPlayer(username string, rec *game.PlayerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.players[username] = rec.Clone()
}

func (c *recordCache) setPending(username string, pending bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pending {
		c.pending[username] = struct{}{}
	} else {
		delete(c.pending, username)
	}
}

// pendingPlayers returns copies of every cached player whose durable write
// failed, in username order.
func (c *recordCache) pendingPlayers() ([]string, map[string]*game.PlayerRecord) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.pending))
	recs := make(map[string]*game.PlayerRecord, len(c.pending))
	for name := range c.pending {
		if rec, ok := c.players[name]; ok {
			names = append(names, name)
			recs[name] = rec.Clone()
		}
	}
	sort.Strings(names)
	return names, recs
}

// clear drops cached records. Pending players are kept so a later Shutdown
// can still flush them.
func (c *recordCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.worlds = map[string]*game.WorldData{}
	players := map[string]*game.PlayerRecord{}
	for name := range c.pending {
		if rec, ok := c.players[name]; ok {
			players[name] = rec
		}
	}
	c.players = players
}
