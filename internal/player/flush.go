package player

import (
	"context"
	"fmt"

	"github.com/pixil98/go-errors"
)

// persist writes a session's state everywhere it lives durably: the current
// world's record, the player's storage record and the account coordinates.
// Every destination is attempted even if an earlier one fails.
func (m *PlayerManager) persist(ctx context.Context, p *OnlinePlayer) error {
	rec := p.Snapshot()
	username := p.Username()

	if w := m.worlds.GetCurrentWorld(); w != nil {
		w.SavePlayerData(username, rec)
	}

	el := errors.NewErrorList()
	if err := m.store.SavePlayer(username, rec); err != nil {
		el.Add(fmt.Errorf("saving player record: %w", err))
	}
	if err := m.creds.UpdateCoordinates(username, rec.X, rec.Y); err != nil {
		el.Add(fmt.Errorf("updating coordinates: %w", err))
	}
	return el.Err()
}
