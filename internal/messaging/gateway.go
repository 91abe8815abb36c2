package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pixil98/go-worldstate/internal/game"
	"github.com/pixil98/go-worldstate/internal/player"
	"github.com/pixil98/go-worldstate/internal/storage"
)

// Sessions is the session registry the gateway drives.
type Sessions interface {
	LoginPlayer(ctx context.Context, username, password, sessionID string) (*player.OnlinePlayer, error)
	RegisterPlayer(ctx context.Context, username, password string) error
	UpdatePlayer(ctx context.Context, username, sessionID string, rec *game.PlayerRecord) error
	LogoutPlayer(ctx context.Context, username, sessionID string) error
}

// Gateway turns client requests arriving over NATS into session calls.
type Gateway struct {
	server   *NatsServer
	sessions Sessions
	ready    chan struct{}
}

func NewGateway(server *NatsServer, sessions Sessions) *Gateway {
	return &Gateway{
		server:   server,
		sessions: sessions,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once every handler is subscribed.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

func (g *Gateway) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-g.server.Ready():
	}

	handlers := map[string]func(context.Context, []byte) []byte{
		SubjectLogin:       g.handleLogin,
		SubjectLogout:      g.handleLogout,
		SubjectRegister:    g.handleRegister,
		SubjectPlayerState: g.handleState,
	}

	var unsubs []func()
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	for subject, h := range handlers {
		unsub, err := g.server.HandleRequest(subject, func(data []byte) []byte {
			return h(ctx, data)
		})
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		unsubs = append(unsubs, unsub)
	}

	if err := g.server.Flush(); err != nil {
		return fmt.Errorf("flushing subscriptions: %w", err)
	}
	close(g.ready)

	slog.InfoContext(ctx, "gateway accepting requests")
	<-ctx.Done()
	return nil
}

func (g *Gateway) handleLogin(ctx context.Context, data []byte) []byte {
	var req LoginRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return mustMarshal(badRequest(err))
	}

	p, err := g.sessions.LoginPlayer(ctx, req.Username, req.Password, req.SessionID)
	if err != nil {
		return mustMarshal(LoginResponse{Reply: failure(ctx, err)})
	}

	return mustMarshal(LoginResponse{
		Reply:     Reply{OK: true},
		SessionID: p.SessionID(),
		Player:    p.Snapshot(),
	})
}

func (g *Gateway) handleRegister(ctx context.Context, data []byte) []byte {
	var req RegisterRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return mustMarshal(badRequest(err))
	}

	if err := g.sessions.RegisterPlayer(ctx, req.Username, req.Password); err != nil {
		return mustMarshal(failure(ctx, err))
	}
	return mustMarshal(Reply{OK: true})
}

func (g *Gateway) handleLogout(ctx context.Context, data []byte) []byte {
	var req LogoutRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return mustMarshal(badRequest(err))
	}

	// Only the session that owns the login may end it.
	if req.SessionID == "" {
		return mustMarshal(badRequest(fmt.Errorf("session id must be set")))
	}

	if err := g.sessions.LogoutPlayer(ctx, req.Username, req.SessionID); err != nil {
		return mustMarshal(failure(ctx, err))
	}
	return mustMarshal(Reply{OK: true})
}

func (g *Gateway) handleState(ctx context.Context, data []byte) []byte {
	var req StateUpdate
	if err := json.Unmarshal(data, &req); err != nil {
		return mustMarshal(badRequest(err))
	}
	if req.SessionID == "" {
		return mustMarshal(badRequest(fmt.Errorf("session id must be set")))
	}

	if err := g.sessions.UpdatePlayer(ctx, req.Username, req.SessionID, req.Player); err != nil {
		return mustMarshal(failure(ctx, err))
	}
	return mustMarshal(Reply{OK: true})
}

func badRequest(err error) Reply {
	return Reply{Code: CodeBadRequest, Error: err.Error()}
}

// failure maps a session error onto a reply code. Only unexpected errors are
// logged.
func failure(ctx context.Context, err error) Reply {
	switch {
	case errors.Is(err, player.ErrInvalidCredentials):
		return Reply{Code: CodeInvalidCredentials, Error: err.Error()}
	case errors.Is(err, storage.ErrAccountExists):
		return Reply{Code: CodeAccountExists, Error: err.Error()}
	case errors.Is(err, player.ErrNotOnline):
		return Reply{Code: CodeNotOnline, Error: err.Error()}
	case errors.Is(err, player.ErrStaleSession):
		return Reply{Code: CodeStaleSession, Error: err.Error()}
	case errors.Is(err, player.ErrShuttingDown):
		return Reply{Code: CodeShuttingDown, Error: err.Error()}
	default:
		slog.ErrorContext(ctx, "handling request", "error", err)
		return Reply{Code: CodeInternal, Error: err.Error()}
	}
}
