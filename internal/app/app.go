// Package app provides the top-level lifecycle of the exit monitor. It wires
// the stores, caches, blob storage and notifiers, builds the engine and its
// order-submission goroutine, and supervises every long-running component in
// one errgroup.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/exitwatch/internal/config"
)

// App owns the configuration and the cleanup functions registered while
// wiring, which Close runs in reverse order.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	closers   []func()
	closeOnce sync.Once
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the backends and blocks until ctx is cancelled or a component
// fails. Call Close afterwards.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.logger.InfoContext(ctx, "backends connected",
		slog.String("label", a.cfg.Session.Label),
		slog.Int("probes", len(deps.Probes)),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier.Enabled()),
	)
	a.closers = append(a.closers, cleanup)

	return a.run(ctx, deps)
}

// Close releases the backends. Only the first call has an effect.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		a.logger.Info("backends closed", slog.Int("count", len(a.closers)))
		a.closers = nil
	})
}
