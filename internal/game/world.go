package game

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	MinutesPerDay           = 1440
	DefaultDayLengthMinutes = 10.0
	DefaultWorldTimeMinutes = 480.0
)

// WorldData is the in-memory aggregate for one world. All access must go
// through its methods; every record handed out is a deep copy.
type WorldData struct {
	name   string
	config WorldConfig

	// timeMu guards the four clock fields and is never held across I/O, so a
	// simulation tick never waits on a save.
	timeMu           sync.Mutex
	lastPlayed       int64
	worldTimeMinutes float64
	playedTime       int64
	dayLength        float64

	// saveMu guards the player map, extensions and validate/repair. When both
	// locks are needed saveMu is always taken first.
	saveMu     sync.Mutex
	players    map[string]*PlayerRecord
	extensions ExtensionState

	// Every mutation bumps generation. The world is dirty while generation is
	// ahead of the last generation confirmed durable.
	generation atomic.Uint64
	saved      atomic.Uint64
}

// NewWorldData creates an empty world that has never been saved.
func NewWorldData(name string, config WorldConfig, now time.Time) (*WorldData, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyWorldName
	}

	w := &WorldData{
		name:             name,
		config:           config,
		lastPlayed:       now.UnixMilli(),
		worldTimeMinutes: DefaultWorldTimeMinutes,
		dayLength:        DefaultDayLengthMinutes,
		players:          map[string]*PlayerRecord{},
	}
	w.markDirty()
	return w, nil
}

// Name returns the world's immutable name.
func (w *WorldData) Name() string {
	return w.name
}

// Config returns the world's creation-time configuration.
func (w *WorldData) Config() WorldConfig {
	return w.config
}

func (w *WorldData) markDirty() {
	w.generation.Add(1)
}

// MarkDirty flags the world for the next save. Collaborators call it after
// changing state this package does not track, such as extensions they hold
// references into.
func (w *WorldData) MarkDirty() {
	w.markDirty()
}

// IsDirty reports whether the world has changes not yet confirmed durable.
func (w *WorldData) IsDirty() bool {
	return w.generation.Load() != w.saved.Load()
}

// Generation returns the current mutation counter.
func (w *WorldData) Generation() uint64 {
	return w.generation.Load()
}

// MarkSaved records that the state as of generation gen is durable. The dirty
// flag only clears if nothing changed after that snapshot was taken.
func (w *WorldData) MarkSaved(gen uint64) {
	for {
		cur := w.saved.Load()
		if gen <= cur {
			return
		}
		if w.saved.CompareAndSwap(cur, gen) {
			return
		}
	}
}

// LastPlayed returns the last time the world was saved or touched.
func (w *WorldData) LastPlayed() time.Time {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	return time.UnixMilli(w.lastPlayed)
}

// Touch sets the last played time.
func (w *WorldData) Touch(now time.Time) {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	w.lastPlayed = now.UnixMilli()
	w.markDirty()
}

// WorldTimeMinutes returns the time of day in minutes since midnight.
func (w *WorldData) WorldTimeMinutes() float64 {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	return w.worldTimeMinutes
}

// SetWorldTime sets the time of day, wrapping into a single day.
func (w *WorldData) SetWorldTime(minutes float64) {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	w.worldTimeMinutes = wrapMinutes(minutes)
	w.markDirty()
}

// PlayedTime returns the total simulated play time.
func (w *WorldData) PlayedTime() time.Duration {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	return time.Duration(w.playedTime) * time.Millisecond
}

// DayLengthMinutes returns how many real minutes one in-game day lasts.
func (w *WorldData) DayLengthMinutes() float64 {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	return w.dayLength
}

// SetDayLength changes the real-time length of a day. Non-positive values
// are ignored.
func (w *WorldData) SetDayLength(minutes float64) {
	if !(minutes > 0) || math.IsInf(minutes, 0) {
		slog.Warn("ignoring invalid day length", "world", w.name, "minutes", minutes)
		return
	}
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	w.dayLength = minutes
	w.markDirty()
}

// UpdateTime advances the clock by deltaSeconds of real time.
func (w *WorldData) UpdateTime(deltaSeconds float64) {
	if !(deltaSeconds > 0) || math.IsInf(deltaSeconds, 0) {
		return
	}

	w.timeMu.Lock()
	defer w.timeMu.Unlock()

	dayLength := w.dayLength
	if !(dayLength > 0) {
		dayLength = DefaultDayLengthMinutes
	}

	w.playedTime += int64(math.Round(deltaSeconds * 1000))
	w.worldTimeMinutes = wrapMinutes(w.worldTimeMinutes + deltaSeconds*(MinutesPerDay/(dayLength*60)))
	w.markDirty()
}

func wrapMinutes(m float64) float64 {
	m = math.Mod(m, MinutesPerDay)
	if m < 0 {
		m += MinutesPerDay
	}
	if m >= MinutesPerDay {
		m = 0
	}
	return m
}

// GetPlayerData returns a deep copy of the player's record, or nil if the
// player has never been saved in this world.
func (w *WorldData) GetPlayerData(username string) *PlayerRecord {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()
	return w.players[username].Clone()
}

// SavePlayerData stores a deep copy of rec. Empty usernames and nil records
// are logged and ignored so one bad caller cannot abort a batch save.
func (w *WorldData) SavePlayerData(username string, rec *PlayerRecord) {
	username = strings.TrimSpace(username)
	if username == "" {
		slog.Warn("refusing to save player data without a username", "world", w.name)
		return
	}
	if rec == nil {
		slog.Warn("refusing to save nil player data", "world", w.name, "username", username)
		return
	}

	w.saveMu.Lock()
	defer w.saveMu.Unlock()
	w.players[username] = rec.Clone()
	w.markDirty()
}

// RemovePlayerData deletes a player's record from the world.
func (w *WorldData) RemovePlayerData(username string) {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()
	if _, ok := w.players[username]; !ok {
		return
	}
	delete(w.players, username)
	w.markDirty()
}

// PlayerNames returns the sorted usernames with a record in this world.
func (w *WorldData) PlayerNames() []string {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()

	names := make([]string, 0, len(w.players))
	for name := range w.players {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForEachPlayer calls fn with a copy of every player record in username
// order. fn runs without the world locked.
func (w *WorldData) ForEachPlayer(fn func(username string, rec *PlayerRecord)) {
	w.saveMu.Lock()
	names := make([]string, 0, len(w.players))
	copies := make(map[string]*PlayerRecord, len(w.players))
	for name, rec := range w.players {
		names = append(names, name)
		copies[name] = rec.Clone()
	}
	w.saveMu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		fn(name, copies[name])
	}
}

// SetExtension stores collaborator state under key.
func (w *WorldData) SetExtension(key string, v any) error {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()
	if err := w.extensions.Set(key, v); err != nil {
		return err
	}
	w.markDirty()
	return nil
}

// GetExtension unmarshals the collaborator state under key into out.
func (w *WorldData) GetExtension(key string, out any) (bool, error) {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()
	return w.extensions.Get(key, out)
}

// ValidateAndRepair clamps the clock into range and repairs every player
// record. It is idempotent and reports whether anything was changed.
func (w *WorldData) ValidateAndRepair() bool {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()

	var repairs []string

	w.timeMu.Lock()
	if math.IsNaN(w.worldTimeMinutes) || math.IsInf(w.worldTimeMinutes, 0) {
		w.worldTimeMinutes = DefaultWorldTimeMinutes
		repairs = append(repairs, "reset world time")
	} else if w.worldTimeMinutes < 0 || w.worldTimeMinutes >= MinutesPerDay {
		w.worldTimeMinutes = wrapMinutes(w.worldTimeMinutes)
		repairs = append(repairs, "wrapped world time")
	}
	if !(w.dayLength > 0) || math.IsInf(w.dayLength, 0) {
		w.dayLength = DefaultDayLengthMinutes
		repairs = append(repairs, "reset day length")
	}
	if w.playedTime < 0 {
		w.playedTime = 0
		repairs = append(repairs, "reset played time")
	}
	if w.lastPlayed < 0 {
		w.lastPlayed = 0
		repairs = append(repairs, "reset last played")
	}
	w.timeMu.Unlock()

	if w.players == nil {
		w.players = map[string]*PlayerRecord{}
	}
	for key, rec := range w.players {
		if strings.TrimSpace(key) == "" || rec == nil {
			delete(w.players, key)
			repairs = append(repairs, fmt.Sprintf("dropped player entry %q", key))
			continue
		}
		if rec.Repair(key) {
			repairs = append(repairs, "repaired player "+key)
		}
	}

	if len(repairs) == 0 {
		return false
	}

	w.markDirty()
	slog.Warn("repaired world data", "world", w.name, "repairs", repairs)
	return true
}

// Validate checks the structure a durable copy must have. Player entries are
// left to ValidateAndRepair.
func (w *WorldData) Validate() error {
	if w.name == "" {
		return ErrEmptyWorldName
	}
	return nil
}

// Copy returns a point-in-time deep copy of the world.
func (w *WorldData) Copy() *WorldData {
	c, _ := w.Snapshot()
	return c
}

// Snapshot returns a deep copy of the world together with the generation it
// reflects, for passing to MarkSaved once the copy is durable.
func (w *WorldData) Snapshot() (*WorldData, uint64) {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()
	w.timeMu.Lock()
	defer w.timeMu.Unlock()

	c := &WorldData{
		name:             w.name,
		config:           w.config,
		lastPlayed:       w.lastPlayed,
		worldTimeMinutes: w.worldTimeMinutes,
		playedTime:       w.playedTime,
		dayLength:        w.dayLength,
		players:          make(map[string]*PlayerRecord, len(w.players)),
		extensions:       w.extensions.Clone(),
	}
	for k, v := range w.players {
		c.players[k] = v.Clone()
	}

	gen := w.generation.Load()
	if gen != w.saved.Load() {
		c.markDirty()
	}
	return c, gen
}

// worldFile is the durable form of a world.
type worldFile struct {
	Name             string                   `json:"name"`
	LastPlayed       int64                    `json:"lastPlayed"`
	WorldTimeMinutes float64                  `json:"worldTimeMinutes"`
	PlayedTime       int64                    `json:"playedTime"`
	DayLength        float64                  `json:"dayLength"`
	Config           WorldConfig              `json:"config"`
	Players          map[string]*PlayerRecord `json:"players"`
	Extensions       ExtensionState           `json:"ext,omitempty"`
}

func (w *WorldData) MarshalJSON() ([]byte, error) {
	c := w.Copy()
	return json.Marshal(worldFile{
		Name:             c.name,
		LastPlayed:       c.lastPlayed,
		WorldTimeMinutes: c.worldTimeMinutes,
		PlayedTime:       c.playedTime,
		DayLength:        c.dayLength,
		Config:           c.config,
		Players:          c.players,
		Extensions:       c.extensions,
	})
}

func (w *WorldData) UnmarshalJSON(b []byte) error {
	var f worldFile
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}

	w.name = strings.TrimSpace(f.Name)
	w.config = f.Config
	w.lastPlayed = f.LastPlayed
	w.worldTimeMinutes = f.WorldTimeMinutes
	w.playedTime = f.PlayedTime
	w.dayLength = f.DayLength
	w.players = f.Players
	if w.players == nil {
		w.players = map[string]*PlayerRecord{}
	}
	w.extensions = f.Extensions
	return nil
}
