package messaging

import (
	"context"
	"log/slog"

	"github.com/pixil98/go-worldstate/internal/player"
)

// SessionPublisher tells clients when the server ends their session.
type SessionPublisher struct {
	server *NatsServer
}

func NewSessionPublisher(server *NatsServer) *SessionPublisher {
	return &SessionPublisher{server: server}
}

func (p *SessionPublisher) SessionEnded(ctx context.Context, op *player.OnlinePlayer, reason player.SessionEndReason) {
	// The client asked for these itself.
	if reason == player.SessionLoggedOut {
		return
	}

	event := SessionEvent{
		Username:  op.Username(),
		SessionID: op.SessionID(),
		Reason:    string(reason),
	}
	if err := p.server.Publish(PlayerSubject(op.Username()), mustMarshal(event)); err != nil {
		slog.WarnContext(ctx, "publishing session event", "username", op.Username(), "reason", reason, "error", err)
	}
}
