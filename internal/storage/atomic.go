package storage

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

type writeFunc func(path string, data []byte, perm os.FileMode) error

// writeSynced writes data and flushes it to stable storage before closing.
func writeSynced(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// atomicWrite writes data to a temp file then renames it to the target path.
// This prevents partial or empty files if the process is interrupted.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerms); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp := path + tempSuffix
	if err := writeSynced(tmp, data, perm); err != nil {
		removeTemp(tmp)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		removeTemp(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// verifiedWrite is atomicWrite with a round trip in the middle: the temp file
// is read back, compared byte for byte and handed to verify before it may
// replace path. Any mismatch discards the temp file and leaves path as it was.
func verifiedWrite(world, path string, data []byte, write writeFunc, verify func([]byte) error) error {
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerms); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp := path + tempSuffix
	if err := write(tmp, data, defaultFilePerms); err != nil {
		removeTemp(tmp)
		return fmt.Errorf("writing temp file: %w", err)
	}

	readBack, err := os.ReadFile(tmp)
	if err != nil {
		removeTemp(tmp)
		return &VerificationError{World: world, Path: tmp, Err: fmt.Errorf("reading back: %w", err)}
	}
	if !bytes.Equal(readBack, data) {
		removeTemp(tmp)
		return &VerificationError{World: world, Path: tmp, Err: fmt.Errorf("read back %d bytes, wrote %d", len(readBack), len(data))}
	}
	if err := verify(readBack); err != nil {
		removeTemp(tmp)
		return &VerificationError{World: world, Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, path); err != nil {
		removeTemp(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func removeTemp(tmp string) {
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove temp file", "path", tmp, "error", err)
	}
}
