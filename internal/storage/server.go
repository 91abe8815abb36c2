package storage

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pixil98/go-worldstate/internal/game"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS worlds (
  name TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS players (
  username TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS accounts (
  username TEXT PRIMARY KEY,
  password_hash TEXT NOT NULL,
  x REAL NOT NULL DEFAULT 0,
  y REAL NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS quarantine (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  payload TEXT NOT NULL,
  quarantined_at INTEGER NOT NULL
);`

// ServerStorage keeps multiplayer worlds, players and accounts in a SQLite
// database. Backups are exported as files under the layout's backup tree.
type ServerStorage struct {
	path   string
	layout Layout
	cache  *recordCache

	// dbMu is held for reading while a call uses db and for writing while
	// db is opened or closed.
	dbMu sync.RWMutex
	db   *sql.DB

	passwordCost int
	verify       func(data []byte, name string) (*game.WorldData, error)
	now          func() time.Time
}

type ServerStorageOpt func(*ServerStorage)

// WithPasswordCost sets the bcrypt cost used when registering accounts.
func WithPasswordCost(cost int) ServerStorageOpt {
	return func(s *ServerStorage) {
		s.passwordCost = cost
	}
}

// NewServerStorage creates a backend for the database at dbPath. Backups are
// written under root.
func NewServerStorage(dbPath string, root string, opts ...ServerStorageOpt) *ServerStorage {
	s := &ServerStorage{
		path:         dbPath,
		layout:       Layout{Root: root, Mode: ModeMultiplayer},
		cache:        newRecordCache(),
		passwordCost: bcrypt.DefaultCost,
		verify:       verifyWorld,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *ServerStorage) Layout() Layout {
	return s.layout
}

// conn returns the open database and the func that releases it. Shutdown
// waits for every release.
func (s *ServerStorage) conn() (*sql.DB, func(), error) {
	s.dbMu.RLock()
	if s.db == nil {
		s.dbMu.RUnlock()
		return nil, nil, ErrNotInitialized
	}
	return s.db, s.dbMu.RUnlock, nil
}

func (s *ServerStorage) Init() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.db != nil {
		return nil
	}

	if err := s.layout.EnsureDirs(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), defaultDirPerms); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}

	s.db = db
	return nil
}

func (s *ServerStorage) SavePlayer(username string, rec *game.PlayerRecord) error {
	if err := ValidateIdentifier(username); err != nil {
		return fmt.Errorf("saving player: %w", err)
	}
	if rec == nil {
		slog.Warn("refusing to save nil player record", "username", username)
		return nil
	}

	// Update cached value
	s.cache.putPlayer(username, rec)

	db, release, err := s.conn()
	if err != nil {
		s.cache.setPending(username, true)
		return err
	}
	defer release()

	if err := writePlayer(db, username, rec, s.now()); err != nil {
		s.cache.setPending(username, true)
		return err
	}
	s.cache.setPending(username, false)
	return nil
}

func writePlayer(db *sql.DB, username string, rec *game.PlayerRecord, now time.Time) error {
	data, err := encodePlayer(username, rec)
	if err != nil {
		return fmt.Errorf("marshalling player %q: %w", username, err)
	}

	_, err = db.Exec(`
INSERT INTO players(username, payload, updated_at) VALUES(?, ?, ?)
ON CONFLICT(username) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		username, string(data), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("writing player %q: %w", username, err)
	}
	return nil
}

func (s *ServerStorage) LoadPlayer(username string) (*game.PlayerRecord, error) {
	if rec, ok := s.cache.player(username); ok {
		return rec, nil
	}
	db, release, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	var payload string
	err = db.QueryRow(`SELECT payload FROM players WHERE username = ?`, username).Scan(&payload)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("reading player record", "username", username, "error", err)
		}
		return nil, fmt.Errorf("player %q: %w", username, ErrNotFound)
	}

	rec, err := decodePlayer([]byte(payload), username)
	if err != nil {
		slog.Error("parsing player record", "username", username, "error", err)
		return nil, &CorruptError{Name: username, Path: s.path, Err: err}
	}

	s.cache.putPlayer(username, rec)
	return rec, nil
}

// SaveWorld upserts the world and reads the row back inside one transaction.
// The transaction only commits when the stored payload verifies.
func (s *ServerStorage) SaveWorld(name string, w *game.WorldData) (*game.WorldData, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, fmt.Errorf("saving world: %w", err)
	}
	if w == nil {
		return nil, fmt.Errorf("saving world %q: nil world", name)
	}
	if w.Name() != name {
		return nil, fmt.Errorf("saving world %q: world is named %q", name, w.Name())
	}
	db, release, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := encodeWorld(name, w)
	if err != nil {
		return nil, fmt.Errorf("marshalling world %q: %w", name, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		// No-op once committed
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`
INSERT INTO worlds(name, payload, updated_at) VALUES(?, ?, ?)
ON CONFLICT(name) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		name, string(data), s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("writing world %q: %w", name, err)
	}

	var stored string
	if err := tx.QueryRow(`SELECT payload FROM worlds WHERE name = ?`, name).Scan(&stored); err != nil {
		return nil, &VerificationError{World: name, Path: s.path, Err: fmt.Errorf("reading back: %w", err)}
	}
	if !bytes.Equal([]byte(stored), data) {
		return nil, &VerificationError{World: name, Path: s.path, Err: fmt.Errorf("read back %d bytes, wrote %d", len(stored), len(data))}
	}
	verified, err := s.verify([]byte(stored), name)
	if err != nil {
		return nil, &VerificationError{World: name, Path: s.path, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing world %q: %w", name, err)
	}

	s.cache.putWorld(name, verified)
	return verified, nil
}

func (s *ServerStorage) LoadWorld(name string) (*game.WorldData, error) {
	if w, ok := s.cache.world(name); ok {
		return w, nil
	}
	db, release, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	var payload string
	err = db.QueryRow(`SELECT payload FROM worlds WHERE name = ?`, name).Scan(&payload)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("reading world", "world", name, "error", err)
		}
		return nil, fmt.Errorf("world %q: %w", name, ErrNotFound)
	}

	w, err := decodeWorld([]byte(payload), name)
	if err != nil {
		slog.Error("parsing world", "world", name, "error", err)
		return nil, &CorruptError{Name: name, Path: s.path, Err: err}
	}

	s.cache.putWorld(name, w)
	return w.Copy(), nil
}

func (s *ServerStorage) DeleteWorld(name string) error {
	s.cache.deleteWorld(name)
	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()

	if _, err := db.Exec(`DELETE FROM worlds WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting world %q: %w", name, err)
	}
	return nil
}

func (s *ServerStorage) ListWorlds() ([]string, error) {
	db, release, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.Query(`SELECT name FROM worlds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing worlds: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing worlds: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// BackupWorld exports the stored payload to a timestamped file.
func (s *ServerStorage) BackupWorld(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("backing up world: %w", err)
	}
	db, release, err := s.conn()
	if err != nil {
		return "", err
	}
	defer release()

	var payload string
	err = db.QueryRow(`SELECT payload FROM worlds WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading world %q for backup: %w", name, err)
	}

	return writeBackup(name, []byte(payload), s.layout.BackupFile(name, s.now()))
}

func (s *ServerStorage) ListBackups(name string) ([]string, error) {
	return listBackupFiles(s.layout, name)
}

func (s *ServerStorage) LoadBackup(path string) (*game.WorldData, error) {
	return loadBackupFile(path)
}

// QuarantineWorld moves the world row into the quarantine table.
func (s *ServerStorage) QuarantineWorld(name string) error {
	s.cache.deleteWorld(name)
	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.Exec(`
INSERT INTO quarantine(name, payload, quarantined_at)
SELECT name, payload, ? FROM worlds WHERE name = ?`, s.now().UnixMilli(), name)
	if err != nil {
		return fmt.Errorf("quarantining world %q: %w", name, err)
	}
	if _, err := tx.Exec(`DELETE FROM worlds WHERE name = ?`, name); err != nil {
		return fmt.Errorf("quarantining world %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("quarantining world %q: %w", name, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("quarantined corrupted world", "world", name)
	}
	return nil
}

func (s *ServerStorage) ClearCache() {
	s.cache.clear()
}

// Shutdown flushes pending players and closes the database. Calls in flight
// finish first; later calls fail with ErrNotInitialized.
func (s *ServerStorage) Shutdown() {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.db == nil {
		return
	}

	names, recs := s.cache.pendingPlayers()
	for _, name := range names {
		if err := writePlayer(s.db, name, recs[name], s.now()); err != nil {
			slog.Error("flushing player on shutdown", "username", name, "error", err)
			continue
		}
		s.cache.setPending(name, false)
	}

	if err := s.db.Close(); err != nil {
		slog.Error("closing database", "path", s.path, "error", err)
	}
	s.db = nil
}
