package worlds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pixil98/go-worldstate/internal/game"
	"github.com/pixil98/go-worldstate/internal/storage"
)

const DefaultWorldName = "world"

// Manager owns the authoritative WorldData for every loaded world and is the
// only thing allowed to persist one.
type Manager struct {
	store storage.StorageSystem
	mode  storage.Mode

	// worldLock serializes every operation that changes what is cached or
	// durable. It is held across storage I/O.
	worldLock sync.Mutex

	// cacheMu guards the map itself and is only ever held briefly, so the
	// clock and readers never wait on a save.
	cacheMu sync.RWMutex
	worlds  map[string]*game.WorldData
	current string

	defaultWorld  string
	defaultConfig game.WorldConfig
	verifyRetries int
	now           func() time.Time
}

func NewManager(store storage.StorageSystem, mode storage.Mode, opts ...ManagerOpt) *Manager {
	m := &Manager{
		store:         store,
		mode:          mode,
		worlds:        map[string]*game.WorldData{},
		defaultWorld:  DefaultWorldName,
		defaultConfig: game.NewWorldConfig(time.Now().UnixNano(), 0.1, 0.05),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) Mode() storage.Mode {
	return m.mode
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	}
	if err := storage.ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidName, err)
	}
	return name, nil
}

func (m *Manager) cached(name string) *game.WorldData {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	return m.worlds[name]
}

func (m *Manager) setCached(name string, w *game.WorldData) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.worlds[name] = w
}

// dropCached forgets a world. wasCurrent reports whether it was the current
// world, which is cleared.
func (m *Manager) dropCached(name string) (ok bool, wasCurrent bool) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	_, ok = m.worlds[name]
	delete(m.worlds, name)
	if m.current == name {
		m.current = ""
		wasCurrent = true
	}
	return ok, wasCurrent
}

func (m *Manager) cachedNames() []string {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	names := make([]string, 0, len(m.worlds))
	for name := range m.worlds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateWorld builds a fresh world, replacing any world of the same name, and
// persists it before returning.
func (m *Manager) CreateWorld(ctx context.Context, name string, seed int64, treeRate, pokemonRate float64) (*game.WorldData, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	m.worldLock.Lock()
	defer m.worldLock.Unlock()

	return m.createLocked(ctx, name, game.NewWorldConfig(seed, treeRate, pokemonRate))
}

func (m *Manager) createLocked(ctx context.Context, name string, config game.WorldConfig) (*game.WorldData, error) {
	if err := m.store.DeleteWorld(name); err != nil {
		return nil, fmt.Errorf("replacing world %q: %w", name, err)
	}
	replaced, wasCurrent := m.dropCached(name)

	w, err := m.freshLocked(ctx, name, config)
	if err != nil {
		return nil, err
	}
	if wasCurrent {
		m.cacheMu.Lock()
		m.current = name
		m.cacheMu.Unlock()
	}

	slog.InfoContext(ctx, "created world", "world", name, "seed", config.Seed, "replaced", replaced)
	return w, nil
}

// freshLocked saves and caches a new empty world without touching whatever
// else is stored under its name.
func (m *Manager) freshLocked(ctx context.Context, name string, config game.WorldConfig) (*game.WorldData, error) {
	w, err := game.NewWorldData(name, config, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.saveLocked(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// SaveWorld persists w through the verified write protocol. On error the
// durable copy and the cache are left as they were.
func (m *Manager) SaveWorld(ctx context.Context, w *game.WorldData) error {
	if w == nil {
		slog.WarnContext(ctx, "refusing to save nil world")
		return nil
	}

	m.worldLock.Lock()
	defer m.worldLock.Unlock()

	return m.saveLocked(ctx, w)
}

func (m *Manager) saveLocked(ctx context.Context, w *game.WorldData) error {
	name := w.Name()

	if _, err := m.store.BackupWorld(name); err != nil {
		return fmt.Errorf("backing up world %q: %w", name, err)
	}

	w.ValidateAndRepair()
	w.Touch(m.now())
	snap, gen := w.Snapshot()

	var err error
	for attempt := 0; attempt <= m.verifyRetries; attempt++ {
		_, err = m.store.SaveWorld(name, snap)

		var verr *storage.VerificationError
		if err == nil || !errors.As(err, &verr) {
			break
		}
		if attempt < m.verifyRetries {
			slog.WarnContext(ctx, "retrying world save after failed verification", "world", name, "attempt", attempt+1, "error", err)
		}
	}
	if err != nil {
		return fmt.Errorf("saving world %q: %w", name, err)
	}

	w.MarkSaved(gen)
	m.setCached(name, w)
	return nil
}

// LoadAndValidateWorld loads a world from storage, keeps any richer player
// records from the copy already in memory, repairs it and re-saves it if
// anything changed. A nil result means the world needs to be re-created.
func (m *Manager) LoadAndValidateWorld(ctx context.Context, name string) *game.WorldData {
	m.worldLock.Lock()
	defer m.worldLock.Unlock()

	w, err := m.loadLocked(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			slog.ErrorContext(ctx, "world is corrupt", "world", name, "error", err)
		} else {
			slog.WarnContext(ctx, "world not loaded", "world", name, "error", err)
		}
		return nil
	}
	return w
}

func (m *Manager) loadLocked(ctx context.Context, name string) (*game.WorldData, error) {
	loaded, err := m.store.LoadWorld(name)
	if err != nil {
		return nil, err
	}

	merged := 0
	if live := m.cached(name); live != nil {
		live.ForEachPlayer(func(username string, mem *game.PlayerRecord) {
			disk := loaded.GetPlayerData(username)
			if disk == nil || mem.Completeness() > disk.Completeness() {
				loaded.SavePlayerData(username, mem)
				merged++
			}
		})
	}
	if merged > 0 {
		slog.InfoContext(ctx, "kept richer in-memory player records", "world", name, "players", merged)
	}

	repaired := loaded.ValidateAndRepair()

	m.setCached(name, loaded)
	if merged > 0 || repaired {
		if err := m.saveLocked(ctx, loaded); err != nil {
			slog.ErrorContext(ctx, "saving repaired world", "world", name, "error", err)
		}
	}
	return loaded, nil
}

// DeleteWorld removes a cached world from the cache and from storage.
func (m *Manager) DeleteWorld(ctx context.Context, name string) error {
	m.worldLock.Lock()
	defer m.worldLock.Unlock()

	if m.cached(name) == nil {
		slog.InfoContext(ctx, "delete requested for world that is not loaded", "world", name)
		return nil
	}

	m.dropCached(name)
	if err := m.store.DeleteWorld(name); err != nil {
		return fmt.Errorf("deleting world %q: %w", name, err)
	}

	slog.InfoContext(ctx, "deleted world", "world", name)
	return nil
}

// GetWorld returns the authoritative cached world or nil.
func (m *Manager) GetWorld(name string) *game.WorldData {
	return m.cached(name)
}

// ListWorlds returns every world in storage.
func (m *Manager) ListWorlds() ([]string, error) {
	return m.store.ListWorlds()
}

func (m *Manager) GetCurrentWorld() *game.WorldData {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	if m.current == "" {
		return nil
	}
	return m.worlds[m.current]
}

// SetCurrentWorld makes name the current world, loading it if needed.
func (m *Manager) SetCurrentWorld(ctx context.Context, name string) error {
	if m.cached(name) == nil && m.LoadAndValidateWorld(ctx, name) == nil {
		return fmt.Errorf("%w: %q", ErrWorldNotFound, name)
	}

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if _, ok := m.worlds[name]; !ok {
		return fmt.Errorf("%w: %q", ErrWorldNotFound, name)
	}
	m.current = name
	return nil
}

// SavePlayer stores rec in the current world and saves the world.
func (m *Manager) SavePlayer(ctx context.Context, username string, rec *game.PlayerRecord) error {
	w := m.GetCurrentWorld()
	if w == nil {
		return ErrNoCurrentWorld
	}

	w.SavePlayerData(username, rec)
	return m.SaveWorld(ctx, w)
}

func (m *Manager) ListBackups(name string) ([]string, error) {
	return m.store.ListBackups(name)
}

// RestoreBackup replaces a world with the contents of one of its backups.
func (m *Manager) RestoreBackup(ctx context.Context, name string, path string) (*game.WorldData, error) {
	m.worldLock.Lock()
	defer m.worldLock.Unlock()

	b, err := m.store.LoadBackup(path)
	if err != nil {
		return nil, fmt.Errorf("loading backup %s: %w", path, err)
	}
	if b.Name() != name {
		return nil, fmt.Errorf("backup %s belongs to world %q, not %q", path, b.Name(), name)
	}

	b.ValidateAndRepair()
	b.MarkDirty()
	if err := m.saveLocked(ctx, b); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "restored world from backup", "world", name, "backup", path)
	return b, nil
}

// AdvanceTime moves the clock of every loaded world forward.
func (m *Manager) AdvanceTime(deltaSeconds float64) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	for _, w := range m.worlds {
		w.UpdateTime(deltaSeconds)
	}
}
