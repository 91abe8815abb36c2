package storage

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pixil98/go-worldstate/internal/game"
)

// LocalStorage keeps worlds and players as JSON files under a Layout. It backs
// single-player worlds and the client's offline multiplayer saves.
type LocalStorage struct {
	layout Layout
	cache  *recordCache

	writeFile writeFunc
	now       func() time.Time
}

func NewLocalStorage(root string, mode Mode) *LocalStorage {
	return &LocalStorage{
		layout:    Layout{Root: root, Mode: mode},
		cache:     newRecordCache(),
		writeFile: writeSynced,
		now:       time.Now,
	}
}

// Layout returns the paths this storage writes to.
func (s *LocalStorage) Layout() Layout {
	return s.layout
}

// Init creates the directory skeleton and removes temp files left behind by a
// process that died mid-write.
func (s *LocalStorage) Init() error {
	if err := s.layout.EnsureDirs(); err != nil {
		return err
	}

	return filepath.WalkDir(s.layout.ModeDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, tempSuffix) {
			slog.Warn("removing interrupted write", "path", path)
			removeTemp(path)
		}
		return nil
	})
}

func (s *LocalStorage) SavePlayer(username string, rec *game.PlayerRecord) error {
	if err := ValidateIdentifier(username); err != nil {
		return fmt.Errorf("saving player: %w", err)
	}
	if rec == nil {
		slog.Warn("refusing to save nil player record", "username", username)
		return nil
	}

	// Update cached value
	s.cache.putPlayer(username, rec)

	if err := s.writePlayer(username, rec); err != nil {
		s.cache.setPending(username, true)
		return err
	}
	s.cache.setPending(username, false)
	return nil
}

func (s *LocalStorage) writePlayer(username string, rec *game.PlayerRecord) error {
	data, err := encodePlayer(username, rec)
	if err != nil {
		return fmt.Errorf("marshalling player %q: %w", username, err)
	}
	return atomicWrite(s.layout.PlayerFile(username), data, defaultFilePerms)
}

func (s *LocalStorage) LoadPlayer(username string) (*game.PlayerRecord, error) {
	if rec, ok := s.cache.player(username); ok {
		return rec, nil
	}
	if err := ValidateIdentifier(username); err != nil {
		return nil, fmt.Errorf("loading player: %w", ErrNotFound)
	}

	path := s.layout.PlayerFile(username)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("reading player record", "username", username, "path", path, "error", err)
		}
		return nil, fmt.Errorf("player %q: %w", username, ErrNotFound)
	}

	rec, err := decodePlayer(data, username)
	if err != nil {
		slog.Error("parsing player record", "username", username, "path", path, "error", err)
		return nil, &CorruptError{Name: username, Path: path, Err: err}
	}

	s.cache.putPlayer(username, rec)
	return rec, nil
}

func (s *LocalStorage) SaveWorld(name string, w *game.WorldData) (*game.WorldData, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, fmt.Errorf("saving world: %w", err)
	}
	if w == nil {
		return nil, fmt.Errorf("saving world %q: nil world", name)
	}
	if w.Name() != name {
		return nil, fmt.Errorf("saving world %q: world is named %q", name, w.Name())
	}

	data, err := encodeWorld(name, w)
	if err != nil {
		return nil, fmt.Errorf("marshalling world %q: %w", name, err)
	}

	var verified *game.WorldData
	err = verifiedWrite(name, s.layout.WorldFile(name), data, s.writeFile, func(b []byte) error {
		v, err := verifyWorld(b, name)
		if err != nil {
			return err
		}
		verified = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.putWorld(name, verified)
	return verified, nil
}

// verifyWorld re-parses a written world and checks that encoding it again
// reproduces the same bytes.
func verifyWorld(data []byte, name string) (*game.WorldData, error) {
	w, err := decodeWorld(data, name)
	if err != nil {
		return nil, fmt.Errorf("re-parsing: %w", err)
	}

	again, err := encodeWorld(name, w)
	if err != nil {
		return nil, fmt.Errorf("re-encoding: %w", err)
	}
	if !bytes.Equal(again, data) {
		return nil, fmt.Errorf("re-encoded world differs from written bytes")
	}
	return w, nil
}

func (s *LocalStorage) LoadWorld(name string) (*game.WorldData, error) {
	if w, ok := s.cache.world(name); ok {
		return w, nil
	}
	if err := ValidateIdentifier(name); err != nil {
		return nil, fmt.Errorf("loading world: %w", ErrNotFound)
	}

	path := s.layout.WorldFile(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("reading world", "world", name, "path", path, "error", err)
		}
		return nil, fmt.Errorf("world %q: %w", name, ErrNotFound)
	}

	w, err := decodeWorld(data, name)
	if err != nil {
		slog.Error("parsing world", "world", name, "path", path, "error", err)
		return nil, &CorruptError{Name: name, Path: path, Err: err}
	}

	s.cache.putWorld(name, w)
	return w.Copy(), nil
}

// DeleteWorld removes the world directory. Backups are kept.
func (s *LocalStorage) DeleteWorld(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return fmt.Errorf("deleting world: %w", err)
	}

	s.cache.deleteWorld(name)
	if err := os.RemoveAll(s.layout.WorldDir(name)); err != nil {
		return fmt.Errorf("deleting world %q: %w", name, err)
	}
	return nil
}

// ListWorlds returns the names of every world directory holding a world file.
func (s *LocalStorage) ListWorlds() ([]string, error) {
	entries, err := os.ReadDir(s.layout.ModeDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing worlds: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || ValidateIdentifier(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(s.layout.WorldFile(e.Name())); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *LocalStorage) BackupWorld(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("backing up world: %w", err)
	}

	data, err := os.ReadFile(s.layout.WorldFile(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading world %q for backup: %w", name, err)
	}

	return writeBackup(name, data, s.layout.BackupFile(name, s.now()))
}

func (s *LocalStorage) ListBackups(name string) ([]string, error) {
	return listBackupFiles(s.layout, name)
}

func (s *LocalStorage) LoadBackup(path string) (*game.WorldData, error) {
	return loadBackupFile(path)
}

// QuarantineWorld renames the world file with a .corrupted suffix.
func (s *LocalStorage) QuarantineWorld(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return fmt.Errorf("quarantining world: %w", err)
	}

	s.cache.deleteWorld(name)

	path := s.layout.WorldFile(name)
	if err := os.Rename(path, path+quarantineSuffix); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("quarantining world %q: %w", name, err)
	}

	slog.Warn("quarantined corrupted world", "world", name, "path", path+quarantineSuffix)
	return nil
}

func (s *LocalStorage) ClearCache() {
	s.cache.clear()
}

func (s *LocalStorage) Shutdown() {
	names, recs := s.cache.pendingPlayers()
	for _, name := range names {
		if err := s.writePlayer(name, recs[name]); err != nil {
			slog.Error("flushing player on shutdown", "username", name, "error", err)
			continue
		}
		s.cache.setPending(name, false)
	}
}
