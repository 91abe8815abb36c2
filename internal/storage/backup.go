package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pixil98/go-worldstate/internal/game"
)

// listBackupFiles returns the backups of one world, oldest first.
func listBackupFiles(l Layout, name string) ([]string, error) {
	entries, err := os.ReadDir(l.BackupDir(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backups of %q: %w", name, err)
	}

	var paths []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, backupPrefix) || filepath.Ext(n) != jsonFileExtension {
			continue
		}
		paths = append(paths, filepath.Join(l.BackupDir(name), n))
	}

	// Timestamps are fixed width so lexical order is chronological.
	sort.Strings(paths)
	return paths, nil
}

func loadBackupFile(path string) (*game.WorldData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("backup %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("reading backup %s: %w", path, err)
	}

	w, err := decodeWorld(data, "")
	if err != nil {
		return nil, &CorruptError{Name: filepath.Base(path), Path: path, Err: err}
	}
	return w, nil
}

func writeBackup(name string, data []byte, path string) (string, error) {
	if err := atomicWrite(path, data, defaultFilePerms); err != nil {
		return "", fmt.Errorf("writing backup of %q: %w", name, err)
	}
	return path, nil
}
