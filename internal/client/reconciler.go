package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pixil98/go-worldstate/internal/game"
	"github.com/pixil98/go-worldstate/internal/storage"
)

// ServerLink is the client's connection to an authoritative server.
type ServerLink interface {
	IsConnected() bool
	SendPlayerState(ctx context.Context, rec *game.PlayerRecord) error
}

// WorldSaver persists a player into the local world in single-player.
type WorldSaver interface {
	SavePlayer(ctx context.Context, username string, rec *game.PlayerRecord) error
}

// LocalStore holds the offline copy of a multiplayer player.
type LocalStore interface {
	SavePlayer(username string, rec *game.PlayerRecord) error
}

// Reconciler decides where each player save goes so that a dropped
// connection never throws away the latest state. The offline file it writes
// in multiplayer is recovery only and is never read back as authoritative.
type Reconciler struct {
	mode     storage.Mode
	username string

	world WorldSaver
	local LocalStore

	mu        sync.Mutex
	link      ServerLink
	lastKnown *game.PlayerRecord
}

func NewReconciler(mode storage.Mode, username string, world WorldSaver, local LocalStore, link ServerLink) *Reconciler {
	return &Reconciler{
		mode:     mode,
		username: username,
		world:    world,
		local:    local,
		link:     link,
	}
}

// SavePlayerState saves rec through whichever path is available.
func (r *Reconciler) SavePlayerState(ctx context.Context, rec *game.PlayerRecord) error {
	if r.mode == storage.ModeSinglePlayer {
		if rec == nil {
			slog.WarnContext(ctx, "refusing to save nil player state", "username", r.username)
			return nil
		}
		return r.world.SavePlayer(ctx, r.username, rec)
	}

	r.mu.Lock()
	link := r.link
	if !rec.IsEmpty() && link != nil && link.IsConnected() {
		r.lastKnown = rec.Clone()
	}
	r.mu.Unlock()

	if link == nil || !link.IsConnected() {
		return r.saveOffline(ctx, rec)
	}

	if err := link.SendPlayerState(ctx, rec); err != nil {
		slog.WarnContext(ctx, "sending player state failed, saving offline", "username", r.username, "error", err)
		if ferr := r.saveOffline(ctx, rec); ferr != nil {
			return fmt.Errorf("sending state: %w; offline save: %w", err, ferr)
		}
	}
	return nil
}

// saveOffline writes rec, or the last known state when rec is empty, to the
// local offline file.
func (r *Reconciler) saveOffline(ctx context.Context, rec *game.PlayerRecord) error {
	if rec == nil || rec.IsEmpty() {
		rec = r.LastKnownState()
	}
	if rec == nil {
		slog.WarnContext(ctx, "no player state to save offline", "username", r.username)
		return nil
	}

	if err := r.local.SavePlayer(r.username, rec); err != nil {
		return fmt.Errorf("saving offline state: %w", err)
	}
	slog.InfoContext(ctx, "saved player state offline", "username", r.username)
	return nil
}

// OnDisconnect saves the last known state locally and then drops the link.
func (r *Reconciler) OnDisconnect(ctx context.Context) {
	if err := r.saveOffline(ctx, nil); err != nil {
		slog.ErrorContext(ctx, "saving state on disconnect", "username", r.username, "error", err)
	}

	r.mu.Lock()
	r.link = nil
	r.mu.Unlock()
}

// SetLink installs a new server connection after a reconnect.
func (r *Reconciler) SetLink(link ServerLink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.link = link
}

func (r *Reconciler) LastKnownState() *game.PlayerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastKnown.Clone()
}
