package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pixil98/go-worldstate/internal/game"
	"github.com/pixil98/go-worldstate/internal/storage"
)

const DefaultIdleTimeout = 5 * time.Minute

// Credentials is the account backend sessions are authenticated against.
type Credentials interface {
	Register(username, password string) error
	Authenticate(username, password string) (bool, error)
	GetCoordinates(username string) (float64, float64, error)
	UpdateCoordinates(username string, x, y float64) error
}

// Worlds is the part of the world manager sessions read from and write into.
type Worlds interface {
	GetCurrentWorld() *game.WorldData
	Shutdown(ctx context.Context) error
}

// SessionEndReason says why a session was closed.
type SessionEndReason string

const (
	SessionLoggedOut SessionEndReason = "logged_out"
	SessionReplaced  SessionEndReason = "replaced"
	SessionTimedOut  SessionEndReason = "timed_out"
	SessionDisposed  SessionEndReason = "disposed"
)

// SessionListener is told about every session that ends, after it has been
// persisted.
type SessionListener interface {
	SessionEnded(ctx context.Context, p *OnlinePlayer, reason SessionEndReason)
}

type PlayerManager struct {
	creds     Credentials
	store     storage.StorageSystem
	worlds    Worlds
	listeners []SessionListener

	// sessionMu serializes opening and closing sessions so a closing
	// session is flushed before its successor loads. Lock before mu.
	sessionMu sync.Mutex
	closed    bool

	mu       sync.RWMutex
	sessions map[string]*OnlinePlayer

	idleTimeout time.Duration
	now         func() time.Time
}

type PlayerManagerOpt func(*PlayerManager)

// WithIdleTimeout sets how long a session may go without an update before
// the server treats the client as gone.
func WithIdleTimeout(d time.Duration) PlayerManagerOpt {
	return func(m *PlayerManager) {
		m.idleTimeout = d
	}
}

func WithSessionListener(l SessionListener) PlayerManagerOpt {
	return func(m *PlayerManager) {
		m.listeners = append(m.listeners, l)
	}
}

func WithClock(now func() time.Time) PlayerManagerOpt {
	return func(m *PlayerManager) {
		m.now = now
	}
}

func NewPlayerManager(creds Credentials, store storage.StorageSystem, worlds Worlds, opts ...PlayerManagerOpt) *PlayerManager {
	m := &PlayerManager{
		creds:       creds,
		store:       store,
		worlds:      worlds,
		sessions:    map[string]*OnlinePlayer{},
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *PlayerManager) Start(ctx context.Context) error {
	<-ctx.Done()

	if err := m.Dispose(context.WithoutCancel(ctx)); err != nil {
		slog.ErrorContext(ctx, "disposing player manager", "error", err)
	}
	return nil
}

func (m *PlayerManager) RegisterPlayer(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if err := m.creds.Register(username, password); err != nil {
		return err
	}

	slog.InfoContext(ctx, "registered player", "username", username)
	return nil
}

// LoginPlayer authenticates a user and opens a session for them. Rejected
// credentials yield ErrInvalidCredentials. An existing session for the same
// user is flushed and replaced. An empty sessionID gets a generated one.
func (m *PlayerManager) LoginPlayer(ctx context.Context, username, password, sessionID string) (*OnlinePlayer, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidCredentials
	}

	if m.isClosed() {
		return nil, ErrShuttingDown
	}

	ok, err := m.creds.Authenticate(username, password)
	if err != nil {
		return nil, fmt.Errorf("authenticating %q: %w", username, err)
	}
	if !ok {
		slog.InfoContext(ctx, "login rejected", "username", username)
		return nil, ErrInvalidCredentials
	}

	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if m.closed {
		return nil, ErrShuttingDown
	}

	if old := m.remove(username, nil); old != nil {
		slog.InfoContext(ctx, "replacing existing session", "username", username, "session", old.SessionID())
		if err := m.persist(ctx, old); err != nil {
			slog.ErrorContext(ctx, "flushing replaced session", "username", username, "error", err)
		}
		m.notify(ctx, old, SessionReplaced)
	}

	rec, found := m.lastRecord(ctx, username)
	if !found {
		// Accounts that never saved a record still carry a position.
		x, y, err := m.creds.GetCoordinates(username)
		if err == nil {
			rec.X, rec.Y = x, y
		} else {
			slog.WarnContext(ctx, "no stored coordinates", "username", username, "error", err)
		}
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	p := newOnlinePlayer(username, sessionID, rec, m.now())

	m.mu.Lock()
	m.sessions[username] = p
	m.mu.Unlock()

	slog.InfoContext(ctx, "player logged in", "username", username, "session", sessionID, "x", rec.X, "y", rec.Y)
	return p, nil
}

// lastRecord finds the newest record for username: the current world first,
// then storage. found is false when a fresh record had to be made.
func (m *PlayerManager) lastRecord(ctx context.Context, username string) (*game.PlayerRecord, bool) {
	if w := m.worlds.GetCurrentWorld(); w != nil {
		if rec := w.GetPlayerData(username); rec != nil {
			return rec, true
		}
	}

	rec, err := m.store.LoadPlayer(username)
	if err == nil {
		return rec, true
	}
	if !errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrCorrupt) {
		slog.WarnContext(ctx, "loading player record", "username", username, "error", err)
	}
	return game.NewPlayerRecord(username), false
}

// UpdatePlayer applies a client's state update to its session and to the
// current world's record.
func (m *PlayerManager) UpdatePlayer(ctx context.Context, username, sessionID string, rec *game.PlayerRecord) error {
	p := m.GetPlayer(username)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrNotOnline, username)
	}
	if sessionID != "" && sessionID != p.SessionID() {
		return fmt.Errorf("%w: %q", ErrStaleSession, username)
	}
	if rec == nil {
		slog.WarnContext(ctx, "ignoring empty state update", "username", username)
		return nil
	}

	p.ApplyState(rec, m.now())
	if w := m.worlds.GetCurrentWorld(); w != nil {
		w.SavePlayerData(username, p.Snapshot())
	}
	return nil
}

// LogoutPlayer closes a session and immediately persists it. A non-empty
// sessionID must match the open session.
func (m *PlayerManager) LogoutPlayer(ctx context.Context, username, sessionID string) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	p := m.GetPlayer(username)
	if p == nil {
		slog.InfoContext(ctx, "logout for player who is not online", "username", username)
		return nil
	}
	if sessionID != "" && sessionID != p.SessionID() {
		return fmt.Errorf("%w: %q", ErrStaleSession, username)
	}
	m.remove(username, p)

	err := m.persist(ctx, p)
	m.notify(ctx, p, SessionLoggedOut)
	if err != nil {
		return fmt.Errorf("persisting %q on logout: %w", username, err)
	}

	slog.InfoContext(ctx, "player logged out", "username", username)
	return nil
}

// Tick logs out sessions that have been idle longer than the idle timeout.
func (m *PlayerManager) Tick(ctx context.Context) error {
	cutoff := m.now().Add(-m.idleTimeout)

	// Collect first, act after releasing the read lock.
	var idle []*OnlinePlayer
	m.mu.RLock()
	for _, p := range m.sessions {
		if p.LastActivity().Before(cutoff) {
			idle = append(idle, p)
		}
	}
	m.mu.RUnlock()

	for _, p := range idle {
		m.expire(ctx, p)
	}

	return nil
}

func (m *PlayerManager) expire(ctx context.Context, p *OnlinePlayer) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if m.remove(p.Username(), p) == nil {
		return
	}
	if err := m.persist(ctx, p); err != nil {
		slog.ErrorContext(ctx, "persisting idle player", "username", p.Username(), "error", err)
	}
	m.notify(ctx, p, SessionTimedOut)
	slog.InfoContext(ctx, "idle player timed out", "username", p.Username(), "lastActivity", p.LastActivity())
}

// Dispose flushes every session and then shuts down the worlds and storage.
// Logins are refused from then on.
func (m *PlayerManager) Dispose(ctx context.Context) error {
	m.sessionMu.Lock()
	m.closed = true

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*OnlinePlayer{}
	m.mu.Unlock()

	names := make([]string, 0, len(sessions))
	for name := range sessions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := m.persist(ctx, sessions[name]); err != nil {
			slog.ErrorContext(ctx, "flushing player on dispose", "username", name, "error", err)
		}
		m.notify(ctx, sessions[name], SessionDisposed)
	}
	m.sessionMu.Unlock()

	slog.InfoContext(ctx, "flushed online players", "count", len(names))
	return m.worlds.Shutdown(ctx)
}

func (m *PlayerManager) isClosed() bool {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	return m.closed
}

func (m *PlayerManager) GetPlayer(username string) *OnlinePlayer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[username]
}

// OnlinePlayers returns the usernames with an open session.
func (m *PlayerManager) OnlinePlayers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// remove drops the session for username. When want is set the session is
// only removed if it is still that one.
func (m *PlayerManager) remove(username string, want *OnlinePlayer) *OnlinePlayer {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.sessions[username]
	if !ok || (want != nil && p != want) {
		return nil
	}
	delete(m.sessions, username)
	return p
}

func (m *PlayerManager) notify(ctx context.Context, p *OnlinePlayer, reason SessionEndReason) {
	for _, l := range m.listeners {
		l.SessionEnded(ctx, p, reason)
	}
}
