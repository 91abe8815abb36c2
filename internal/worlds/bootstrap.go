package worlds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pixil98/go-worldstate/internal/storage"
)

// Init prepares storage and loads every stored world. Single-player replaces
// corrupted worlds with fresh ones of the same name; multiplayer skips them
// and creates the default world when nothing else exists.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.store.Init(); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	names, err := m.store.ListWorlds()
	if err != nil {
		return fmt.Errorf("listing worlds: %w", err)
	}

	m.worldLock.Lock()
	defer m.worldLock.Unlock()

	for _, name := range names {
		_, err := m.loadLocked(ctx, name)
		if err == nil {
			continue
		}

		if !errors.Is(err, storage.ErrCorrupt) {
			slog.WarnContext(ctx, "skipping unreadable world", "world", name, "error", err)
			continue
		}

		slog.ErrorContext(ctx, "quarantining corrupted world", "world", name, "error", err)
		if err := m.store.QuarantineWorld(name); err != nil {
			slog.ErrorContext(ctx, "quarantining world", "world", name, "error", err)
			continue
		}

		if m.mode == storage.ModeSinglePlayer {
			if _, err := m.freshLocked(ctx, name, m.defaultConfig); err != nil {
				slog.ErrorContext(ctx, "replacing corrupted world", "world", name, "error", err)
			}
		}
	}

	if m.mode == storage.ModeMultiplayer && len(m.cachedNames()) == 0 {
		if _, err := validateName(m.defaultWorld); err != nil {
			return fmt.Errorf("default world: %w", err)
		}
		if _, err := m.createLocked(ctx, m.defaultWorld, m.defaultConfig); err != nil {
			return fmt.Errorf("creating default world: %w", err)
		}
	}

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if _, ok := m.worlds[m.defaultWorld]; ok {
		m.current = m.defaultWorld
	} else if m.mode == storage.ModeMultiplayer {
		for _, name := range names {
			if _, ok := m.worlds[name]; ok {
				m.current = name
				break
			}
		}
	}

	slog.InfoContext(ctx, "world manager ready", "mode", m.mode, "worlds", len(m.worlds), "current", m.current)
	return nil
}

// Shutdown saves every dirty world, then flushes and closes storage.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.CheckAutoSave(ctx)
	m.store.Shutdown()
	return err
}

// Start waits for the context to end, then shuts the manager down.
func (m *Manager) Start(ctx context.Context) error {
	<-ctx.Done()

	if err := m.Shutdown(context.WithoutCancel(ctx)); err != nil {
		slog.ErrorContext(ctx, "saving worlds on shutdown", "error", err)
	}
	return nil
}
