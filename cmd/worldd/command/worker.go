package command

import (
	"context"
	"fmt"
	"time"

	"github.com/pixil98/go-service"
	"github.com/pixil98/go-worldstate/internal/driver"
	"github.com/pixil98/go-worldstate/internal/messaging"
	"github.com/pixil98/go-worldstate/internal/player"
	"github.com/pixil98/go-worldstate/internal/storage"
	"github.com/pixil98/go-worldstate/internal/worlds"
)

const defaultAutosaveInterval = time.Minute

func BuildWorkers(config interface{}) (service.WorkerList, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unable to cast config")
	}

	ctx := context.Background()

	if cfg.Mode == storage.ModeMultiplayer {
		return buildMultiplayer(ctx, cfg)
	}
	return buildSinglePlayer(ctx, cfg)
}

func buildSinglePlayer(ctx context.Context, cfg *Config) (service.WorkerList, error) {
	store := cfg.Storage.buildLocalStorage(cfg.Worlds.Root)

	manager := cfg.Worlds.buildManager(store, storage.ModeSinglePlayer)
	err := manager.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing world manager: %w", err)
	}

	workers := buildDrivers(cfg, manager)
	workers["worlds"] = manager

	return workers, nil
}

func buildMultiplayer(ctx context.Context, cfg *Config) (service.WorkerList, error) {
	store := cfg.Storage.buildServerStorage(cfg.Worlds.Root)

	manager := cfg.Worlds.buildManager(store, storage.ModeMultiplayer)
	err := manager.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing world manager: %w", err)
	}

	server, err := cfg.Nats.buildNatsServer()
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}

	// The player manager owns world shutdown in multiplayer so the final
	// player flush lands before storage closes.
	players, err := cfg.Sessions.buildPlayerManager(store, manager,
		player.WithSessionListener(messaging.NewSessionPublisher(server)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating player manager: %w", err)
	}

	workers := buildDrivers(cfg, manager, players)
	workers["nats"] = server
	workers["gateway"] = messaging.NewGateway(server, players)
	workers["players"] = players

	return workers, nil
}

// buildDrivers returns the clock, which advances world time every tick, and
// the maintenance driver, which runs autosave and any extra tickers.
func buildDrivers(cfg *Config, manager *worlds.Manager, extra ...driver.Ticker) service.WorkerList {
	tick := cfg.tickInterval()

	clock := driver.NewDriver("clock",
		[]driver.Ticker{worlds.NewClock(manager, tick)},
		driver.WithTickLength(tick),
	)

	maintenance := driver.NewDriver("maintenance",
		append([]driver.Ticker{worlds.NewAutoSaver(manager)}, extra...),
		driver.WithTickLength(cfg.autosaveInterval()),
	)

	return service.WorkerList{
		"clock":       clock,
		"maintenance": maintenance,
	}
}
