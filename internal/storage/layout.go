package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Mode selects which half of the storage tree a backend owns.
type Mode string

const (
	ModeSinglePlayer Mode = "singleplayer"
	ModeMultiplayer  Mode = "multiplayer"
)

func (m Mode) Valid() bool {
	return m == ModeSinglePlayer || m == ModeMultiplayer
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch Mode(text) {
	case ModeSinglePlayer, ModeMultiplayer:
		*m = Mode(text)
		return nil
	default:
		return fmt.Errorf("unknown mode: %s", text)
	}
}

const (
	worldFileName     = "world.json"
	backupsDirName    = "backups"
	playersDirName    = "players"
	backupPrefix      = "world_"
	backupTimeFormat  = "20060102T150405.000000000Z"
	tempSuffix        = ".tmp"
	quarantineSuffix  = ".corrupted"
	defaultDirPerms   = 0o755
	defaultFilePerms  = 0o644
	jsonFileExtension = ".json"
)

// Layout maps world names and usernames to paths under a root directory:
//
//	<root>/<mode>/<world>/world.json
//	<root>/<mode>/backups/<world>/world_<timestamp>.json
//	<root>/<mode>/players/<username>.json
type Layout struct {
	Root string
	Mode Mode
}

func (l Layout) ModeDir() string {
	return filepath.Join(l.Root, string(l.Mode))
}

func (l Layout) WorldDir(name string) string {
	return filepath.Join(l.ModeDir(), name)
}

func (l Layout) WorldFile(name string) string {
	return filepath.Join(l.WorldDir(name), worldFileName)
}

func (l Layout) BackupDir(name string) string {
	return filepath.Join(l.ModeDir(), backupsDirName, name)
}

func (l Layout) BackupFile(name string, at time.Time) string {
	return filepath.Join(l.BackupDir(name), backupPrefix+at.UTC().Format(backupTimeFormat)+jsonFileExtension)
}

func (l Layout) PlayersDir() string {
	return filepath.Join(l.ModeDir(), playersDirName)
}

func (l Layout) PlayerFile(username string) string {
	return filepath.Join(l.PlayersDir(), username+jsonFileExtension)
}

// EnsureDirs creates the directory skeleton for both modes if it is missing.
func (l Layout) EnsureDirs() error {
	dirs := []string{l.PlayersDir()}
	for _, m := range []Mode{ModeSinglePlayer, ModeMultiplayer} {
		dirs = append(dirs, filepath.Join(l.Root, string(m), backupsDirName))
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d, defaultDirPerms); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}
