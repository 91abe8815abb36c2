package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-worldstate/internal/storage"
)

type Config struct {
	Mode             storage.Mode   `json:"mode"`
	TickInterval     string         `json:"tick_interval"`
	AutosaveInterval string         `json:"autosave_interval"`
	Worlds           WorldsConfig   `json:"worlds"`
	Storage          StorageConfig  `json:"storage"`
	Sessions         SessionsConfig `json:"sessions"`
	Nats             NatsConfig     `json:"nats"`
}

func (c *Config) Validate() error {
	el := errors.NewErrorList()

	if !c.Mode.Valid() {
		el.Add(fmt.Errorf("mode must be %q or %q", storage.ModeSinglePlayer, storage.ModeMultiplayer))
	}

	d, err := time.ParseDuration(c.TickInterval)
	if err != nil {
		el.Add(fmt.Errorf("parsing tick_interval: %w", err))
	} else if d < time.Second {
		el.Add(fmt.Errorf("tick_interval must be at least 1 second"))
	}

	if c.AutosaveInterval != "" {
		d, err := time.ParseDuration(c.AutosaveInterval)
		if err != nil {
			el.Add(fmt.Errorf("parsing autosave_interval: %w", err))
		} else if d < time.Second {
			el.Add(fmt.Errorf("autosave_interval must be at least 1 second"))
		}
	}

	el.Add(c.Worlds.validate())
	el.Add(c.Storage.validate(c.Mode))
	el.Add(c.Sessions.validate())
	el.Add(c.Nats.validate())

	return el.Err()
}

func (c *Config) tickInterval() time.Duration {
	d, _ := time.ParseDuration(c.TickInterval)
	return d
}

func (c *Config) autosaveInterval() time.Duration {
	if c.AutosaveInterval == "" {
		return defaultAutosaveInterval
	}
	d, _ := time.ParseDuration(c.AutosaveInterval)
	return d
}
