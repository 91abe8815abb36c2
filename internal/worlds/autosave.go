package worlds

import (
	"context"
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
)

// CheckAutoSave saves every dirty loaded world. One world failing does not
// stop the others from being saved.
func (m *Manager) CheckAutoSave(ctx context.Context) error {
	m.worldLock.Lock()
	defer m.worldLock.Unlock()

	el := errors.NewErrorList()
	for _, name := range m.cachedNames() {
		w := m.cached(name)
		if w == nil || !w.IsDirty() {
			continue
		}
		el.Add(m.saveLocked(ctx, w))
	}
	return el.Err()
}

// AutoSaver saves dirty worlds each time it ticks.
type AutoSaver struct {
	manager *Manager
}

func NewAutoSaver(m *Manager) *AutoSaver {
	return &AutoSaver{manager: m}
}

func (a *AutoSaver) Tick(ctx context.Context) error {
	if err := a.manager.CheckAutoSave(ctx); err != nil {
		return fmt.Errorf("auto-save: %w", err)
	}
	return nil
}

// Clock advances every loaded world by a fixed step each time it ticks.
type Clock struct {
	manager *Manager
	step    time.Duration
}

func NewClock(m *Manager, step time.Duration) *Clock {
	return &Clock{manager: m, step: step}
}

func (c *Clock) Tick(context.Context) error {
	c.manager.AdvanceTime(c.step.Seconds())
	return nil
}
