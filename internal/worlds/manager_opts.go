package worlds

import (
	"time"

	"github.com/pixil98/go-worldstate/internal/game"
)

type ManagerOpt func(*Manager)

// WithVerifyRetries sets how many more times a save is attempted after the
// backend reports a verification failure.
func WithVerifyRetries(n int) ManagerOpt {
	return func(m *Manager) {
		if n >= 0 {
			m.verifyRetries = n
		}
	}
}

// WithDefaultWorld names the world made current at bootstrap and the
// configuration used when it, or a replacement for a corrupted world, has to
// be created.
func WithDefaultWorld(name string, config game.WorldConfig) ManagerOpt {
	return func(m *Manager) {
		m.defaultWorld = name
		m.defaultConfig = config
	}
}

func WithClock(now func() time.Time) ManagerOpt {
	return func(m *Manager) {
		m.now = now
	}
}
