package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pixil98/go-worldstate/internal/game"
	"github.com/pixil98/go-worldstate/internal/player"
	"github.com/pixil98/go-worldstate/internal/storage"
)

var ErrNotLoggedIn = errors.New("not logged in")

// Link is a client's connection to the server. It satisfies the reconciler's
// ServerLink and reports lost connections and server-ended sessions through
// OnDisconnect callbacks.
type Link struct {
	conn    *nats.Conn
	timeout time.Duration

	mu           sync.Mutex
	username     string
	sessionID    string
	events       *nats.Subscription
	onDisconnect []func(error)
}

type LinkOpt func(*Link)

// WithRequestTimeout bounds requests whose context has no deadline.
func WithRequestTimeout(d time.Duration) LinkOpt {
	return func(l *Link) {
		l.timeout = d
	}
}

// Dial connects to the server at url. Reconnection is left to the caller.
func Dial(url string, opts ...LinkOpt) (*Link, error) {
	l := &Link{
		timeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(l)
	}

	conn, err := nats.Connect(url,
		nats.Name("worldstate-client"),
		nats.Timeout(l.timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.disconnected(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	l.conn = conn

	return l, nil
}

// OnDisconnect registers fn to run when the connection drops or the server
// ends this client's session.
func (l *Link) OnDisconnect(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDisconnect = append(l.onDisconnect, fn)
}

func (l *Link) disconnected(err error) {
	l.mu.Lock()
	fns := append([]func(error){}, l.onDisconnect...)
	l.mu.Unlock()

	slog.Warn("server link lost", "error", err)
	for _, fn := range fns {
		fn(err)
	}
}

func (l *Link) IsConnected() bool {
	return l.conn != nil && l.conn.IsConnected()
}

func (l *Link) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

func (l *Link) request(ctx context.Context, subject string, req any, resp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	msg, err := l.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", subject, err)
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("unmarshalling %s response: %w", subject, err)
	}
	return nil
}

// replyError turns a failed reply back into the sentinel the server matched.
func replyError(r Reply) error {
	if r.OK {
		return nil
	}

	var sentinel error
	switch r.Code {
	case CodeInvalidCredentials:
		sentinel = player.ErrInvalidCredentials
	case CodeAccountExists:
		sentinel = storage.ErrAccountExists
	case CodeNotOnline:
		sentinel = player.ErrNotOnline
	case CodeStaleSession:
		sentinel = player.ErrStaleSession
	case CodeShuttingDown:
		sentinel = player.ErrShuttingDown
	default:
		return fmt.Errorf("server error (%s): %s", r.Code, r.Error)
	}
	return fmt.Errorf("%w: %s", sentinel, r.Error)
}

func (l *Link) Register(ctx context.Context, username, password string) error {
	var resp Reply
	if err := l.request(ctx, SubjectRegister, RegisterRequest{Username: username, Password: password}, &resp); err != nil {
		return err
	}
	return replyError(resp)
}

// Login opens a session and returns the server's record for the player.
func (l *Link) Login(ctx context.Context, username, password string) (*game.PlayerRecord, error) {
	var resp LoginResponse
	if err := l.request(ctx, SubjectLogin, LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	if err := replyError(resp.Reply); err != nil {
		return nil, err
	}

	events, err := l.conn.Subscribe(PlayerSubject(username), l.handleSessionEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribing to session events: %w", err)
	}
	if err := l.conn.Flush(); err != nil {
		_ = events.Unsubscribe()
		return nil, fmt.Errorf("subscribing to session events: %w", err)
	}

	l.mu.Lock()
	if l.events != nil {
		_ = l.events.Unsubscribe()
	}
	l.username = username
	l.sessionID = resp.SessionID
	l.events = events
	l.mu.Unlock()

	return resp.Player, nil
}

func (l *Link) handleSessionEvent(msg *nats.Msg) {
	var event SessionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		slog.Warn("ignoring malformed session event", "error", err)
		return
	}

	l.mu.Lock()
	mine := event.SessionID == l.sessionID
	if mine {
		l.sessionID = ""
	}
	l.mu.Unlock()

	if mine {
		l.disconnected(fmt.Errorf("session ended by server: %s", event.Reason))
	}
}

func (l *Link) Logout(ctx context.Context) error {
	l.mu.Lock()
	username, sessionID := l.username, l.sessionID
	l.mu.Unlock()
	if sessionID == "" {
		return ErrNotLoggedIn
	}

	var resp Reply
	if err := l.request(ctx, SubjectLogout, LogoutRequest{Username: username, SessionID: sessionID}, &resp); err != nil {
		return err
	}
	if err := replyError(resp); err != nil {
		return err
	}

	l.mu.Lock()
	l.sessionID = ""
	if l.events != nil {
		_ = l.events.Unsubscribe()
		l.events = nil
	}
	l.mu.Unlock()
	return nil
}

// SendPlayerState pushes the player's current state to the server.
func (l *Link) SendPlayerState(ctx context.Context, rec *game.PlayerRecord) error {
	l.mu.Lock()
	username, sessionID := l.username, l.sessionID
	l.mu.Unlock()
	if sessionID == "" {
		return ErrNotLoggedIn
	}

	var resp Reply
	if err := l.request(ctx, SubjectPlayerState, StateUpdate{Username: username, SessionID: sessionID, Player: rec}, &resp); err != nil {
		return err
	}
	return replyError(resp)
}

// Close drops the connection without logging out.
func (l *Link) Close() {
	l.conn.Close()
}
