package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/exitwatch/internal/blob/s3"
	"github.com/alanyoungcy/exitwatch/internal/config"
	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/engine"
	"github.com/alanyoungcy/exitwatch/internal/executor"
	"github.com/alanyoungcy/exitwatch/internal/exit"
	"github.com/alanyoungcy/exitwatch/internal/feed"
	"github.com/alanyoungcy/exitwatch/internal/metrics"
	"github.com/alanyoungcy/exitwatch/internal/server"
	"github.com/alanyoungcy/exitwatch/internal/server/handler"
	"github.com/alanyoungcy/exitwatch/internal/server/ws"
	"github.com/alanyoungcy/exitwatch/internal/signals"
)

const (
	statusInterval  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// run builds the engine around deps and supervises it until ctx is done.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	monitorOnly := strings.EqualFold(cfg.Mode, "monitor")

	// Single active engine per label.
	lease, err := deps.LockManager.AcquireLease(ctx, "engine:"+cfg.Session.Label, cfg.Engine.LockTTL.Duration)
	if err != nil {
		return fmt.Errorf("app: engine lock %q: %w", cfg.Session.Label, err)
	}
	defer lease.Release()

	m := metrics.New()
	book := feed.NewQuoteBook()
	scores := signals.NewCache(cfg.Signals.StaleAfter.Duration)

	eng := engine.New(
		engine.Config{
			StartTimeout: cfg.Engine.StartTimeout.Duration,
			StopTimeout:  cfg.Engine.StopTimeout.Duration,
		},
		rulesFromConfig(cfg.Exit),
		engine.Lookups{Quotes: book, Divergence: scores, Confidence: scores, Bands: scores},
		m,
		a.logger,
	)

	events := NewEventFanout(deps.AuditStore, deps.SignalBus, deps.Notifier, m, a.logger)
	sessions := NewSessionManager(nil, deps.Archiver, events, a.logger)

	signalCh := make(chan domain.EntrySignal, cfg.Feed.IntentBatch)
	exec := executor.NewExecutor(
		executorConfig(cfg, monitorOnly),
		eng,
		executor.NewPaperRouter(book),
		signalCh,
		sessions,
		deps.JournalStore,
		events,
		m,
		a.logger,
	)
	// Rollover pruning is applied on the executor goroutine.
	sessions.pruner = exec

	open, err := deps.JournalStore.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("app: load open positions: %w", err)
	}
	restored := exec.Restore(ctx, open)

	if err := eng.Start(); err != nil {
		exec.Disable(err.Error())
		return fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "engine started",
		slog.String("session_id", sessions.Current()),
		slog.Bool("monitor_only", monitorOnly),
		slog.Int("restored", restored),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := lease.Keepalive(gctx); err != nil {
			exec.Disable("engine lock lost")
			return fmt.Errorf("app: %w", err)
		}
		return nil
	})

	refresher := signals.NewRefresher(deps.ScoreCache, scores, cfg.Signals.RefreshInterval.Duration, a.logger)
	g.Go(func() error {
		return refresher.Run(gctx)
	})

	symbols := cfg.Symbols()
	quotes := feed.NewQuoteFeeder(deps.SignalBus, deps.QuoteCache, book, symbols, eng.SignalWorkAvailable, a.logger)
	g.Go(func() error {
		return quotes.Run(gctx)
	})

	if cfg.Feed.WSURL != "" {
		wsFeed := feed.NewWSQuoteFeed(cfg.Feed.WSURL, symbols, deps.QuoteCache, cfg.Feed.ReconnectDelay.Duration, a.logger)
		g.Go(func() error {
			return wsFeed.Run(gctx)
		})
	}

	intents := feed.NewIntentFeeder(deps.SignalBus, signalCh, cfg.Feed.IntentBatch, "", a.logger)
	g.Go(func() error {
		return intents.Run(gctx)
	})

	g.Go(func() error {
		if err := exec.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		t := time.NewTicker(statusInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				m.ObserveStatus(eng.Status())
			}
		}
	})

	g.Go(func() error {
		return sessions.Run(gctx, cfg.Session.RolloverCron)
	})

	if cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, eng, exec, sessions, book, m)
	}

	runErr := g.Wait()

	var stopErr error
	if err := eng.Stop(); err != nil {
		exec.Disable(err.Error())
		stopErr = fmt.Errorf("app: %w", err)
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := sessions.Close(closeCtx); err != nil {
		a.logger.WarnContext(closeCtx, "final session archive failed", slog.String("error", err.Error()))
	}

	return errors.Join(runErr, stopErr)
}

// startHTTPServer adds the API server and the WebSocket hub to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	eng *engine.Engine,
	exec *executor.Executor,
	sessions *SessionManager,
	book *feed.QuoteBook,
	m *metrics.Metrics,
) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channel: domain.EventsChannel,
		Status: func() any {
			return map[string]any{
				"mode":               a.cfg.Mode,
				"label":              a.cfg.Session.Label,
				"session_id":         sessions.Current(),
				"session_started_at": sessions.StartedAt(),
				"trading_disabled":   exec.Disabled(),
				"engine":             eng.Status(),
			}
		},
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Probes, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.cfg.Session.Label, eng, exec, sessions, book),
		Positions: handler.NewPositionHandler(eng.Registry(), eng, exec, deps.JournalStore, a.logger),
		Signals:   handler.NewSignalHandler(deps.SignalBus, a.logger),
		History:   handler.NewHistoryHandler(deps.AuditStore, deps.BlobReader, s3blob.SessionPrefix, a.logger),
		Metrics:   m.Handler(),
	}
	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		ExitRateMax:  a.cfg.Server.ExitRateMax,
		ExitRateSpan: a.cfg.Server.ExitRateSpan.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func rulesFromConfig(c config.ExitConfig) exit.Rules {
	return exit.Rules{
		StopLoss:            c.StopLoss,
		TakeProfit:          c.TakeProfit,
		SoftTarget:          c.SoftTarget,
		SoftMultiplier:      c.SoftMultiplier,
		PullbackFraction:    c.PullbackFraction,
		DivergenceThreshold: c.DivergenceThreshold,
		AgeExitBars:         c.AgeExitBars,
		EnableProtective:    c.EnableProtective,
		EnableDivergence:    c.EnableDivergence,
		EnableAgeExit:       c.EnableAgeExit,
	}
}

func executorConfig(cfg *config.Config, monitorOnly bool) executor.Config {
	instruments := make(map[string]executor.Instrument, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		instruments[in.Symbol] = executor.Instrument{
			SeriesIndex:     in.SeriesIndex,
			PointValue:      in.PointValue,
			DefaultQuantity: in.DefaultQuantity,
		}
	}
	return executor.Config{
		BarInterval:       cfg.Engine.BarInterval.Duration,
		DedupWindow:       cfg.Engine.DedupWindow.Duration,
		MonitorOnly:       monitorOnly,
		DefaultStopLoss:   cfg.Exit.StopLoss,
		DefaultTakeProfit: cfg.Exit.TakeProfit,
		Instruments:       instruments,
	}
}
