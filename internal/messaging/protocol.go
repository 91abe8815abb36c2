package messaging

import (
	"encoding/json"
	"net/url"

	"github.com/pixil98/go-worldstate/internal/game"
)

const (
	SubjectLogin       = "worldstate.session.login"
	SubjectLogout      = "worldstate.session.logout"
	SubjectRegister    = "worldstate.session.register"
	SubjectPlayerState = "worldstate.player.state"
)

// PlayerSubject is where session events for one player are published.
func PlayerSubject(username string) string {
	return "worldstate.player." + url.PathEscape(username) + ".events"
}

// Error codes carried in a Reply.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountExists      = "account_exists"
	CodeNotOnline          = "not_online"
	CodeStaleSession       = "stale_session"
	CodeShuttingDown       = "shutting_down"
	CodeBadRequest         = "bad_request"
	CodeInternal           = "internal"
)

// Reply is the common part of every response.
type Reply struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	SessionID string `json:"sessionId,omitempty"`
}

type LoginResponse struct {
	Reply
	SessionID string             `json:"sessionId,omitempty"`
	Player    *game.PlayerRecord `json:"player,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogoutRequest struct {
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

type StateUpdate struct {
	Username  string             `json:"username"`
	SessionID string             `json:"sessionId"`
	Player    *game.PlayerRecord `json:"player"`
}

// SessionEvent tells a client its session ended on the server side.
type SessionEvent struct {
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(Reply{Code: CodeInternal, Error: err.Error()})
	}
	return b
}
