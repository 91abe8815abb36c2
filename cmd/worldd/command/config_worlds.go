package command

import (
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-worldstate/internal/game"
	"github.com/pixil98/go-worldstate/internal/storage"
	"github.com/pixil98/go-worldstate/internal/worlds"
)

type WorldsConfig struct {
	Root             string  `json:"root"`
	DefaultWorld     string  `json:"default_world"`
	DefaultSeed      int64   `json:"default_seed"`
	TreeSpawnRate    float64 `json:"tree_spawn_rate"`
	PokemonSpawnRate float64 `json:"pokemon_spawn_rate"`
	VerifyRetries    int     `json:"verify_retries"`
}

func (c *WorldsConfig) validate() error {
	el := errors.NewErrorList()

	if c.Root == "" {
		el.Add(fmt.Errorf("worlds.root is required"))
	}
	if c.DefaultWorld != "" {
		if err := storage.ValidateIdentifier(c.DefaultWorld); err != nil {
			el.Add(fmt.Errorf("worlds.default_world: %w", err))
		}
	}
	if c.TreeSpawnRate < 0 || c.TreeSpawnRate > 1 {
		el.Add(fmt.Errorf("worlds.tree_spawn_rate must be between 0 and 1"))
	}
	if c.PokemonSpawnRate < 0 || c.PokemonSpawnRate > 1 {
		el.Add(fmt.Errorf("worlds.pokemon_spawn_rate must be between 0 and 1"))
	}
	if c.VerifyRetries < 0 {
		el.Add(fmt.Errorf("worlds.verify_retries must not be negative"))
	}

	return el.Err()
}

func (c *WorldsConfig) buildManager(store storage.StorageSystem, mode storage.Mode) *worlds.Manager {
	name := c.DefaultWorld
	if name == "" {
		name = worlds.DefaultWorldName
	}

	return worlds.NewManager(store, mode,
		worlds.WithDefaultWorld(name, game.NewWorldConfig(c.DefaultSeed, c.TreeSpawnRate, c.PokemonSpawnRate)),
		worlds.WithVerifyRetries(c.VerifyRetries),
	)
}
