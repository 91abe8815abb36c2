package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-worldstate/internal/player"
	"github.com/pixil98/go-worldstate/internal/storage"
)

type SessionsConfig struct {
	IdleTimeout string `json:"idle_timeout"`
}

func (c *SessionsConfig) validate() error {
	el := errors.NewErrorList()

	if c.IdleTimeout != "" {
		d, err := time.ParseDuration(c.IdleTimeout)
		if err != nil {
			el.Add(fmt.Errorf("parsing sessions.idle_timeout: %w", err))
		} else if d <= 0 {
			el.Add(fmt.Errorf("sessions.idle_timeout must be positive"))
		}
	}

	return el.Err()
}

func (c *SessionsConfig) buildPlayerManager(store *storage.ServerStorage, worlds player.Worlds, opts ...player.PlayerManagerOpt) (*player.PlayerManager, error) {
	if c.IdleTimeout != "" {
		d, err := time.ParseDuration(c.IdleTimeout)
		if err != nil {
			return nil, fmt.Errorf("parsing idle_timeout: %w", err)
		}
		opts = append(opts, player.WithIdleTimeout(d))
	}

	return player.NewPlayerManager(store, store, worlds, opts...), nil
}
