package driver

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultTickLength = time.Second
)

// Ticker is anything that does periodic work on a driver goroutine.
type Ticker interface {
	Tick(context.Context) error
}

// TickerFunc adapts a plain function to a Ticker.
type TickerFunc func(context.Context) error

func (f TickerFunc) Tick(ctx context.Context) error {
	return f(ctx)
}

// Driver runs its tickers in order on a fixed interval until the context is
// cancelled.
type Driver struct {
	name       string
	tickLength time.Duration
	tickers    []Ticker
	stopOnErr  bool
}

func NewDriver(name string, tickers []Ticker, opts ...DriverOpt) *Driver {
	d := &Driver{
		name:       name,
		tickLength: DefaultTickLength,
		tickers:    tickers,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Driver) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.tickLength)
	defer ticker.Stop()

	slog.InfoContext(ctx, "driver started", "driver", d.name, "interval", d.tickLength)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := d.Tick(ctx)
			if err != nil && d.stopOnErr {
				return err
			}
		}
	}
}

// Tick runs every ticker once. A failing ticker does not stop the ones after
// it; the first error is returned.
func (d *Driver) Tick(ctx context.Context) error {
	var first error
	for _, t := range d.tickers {
		if err := t.Tick(ctx); err != nil {
			slog.ErrorContext(ctx, "tick failed", "driver", d.name, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
