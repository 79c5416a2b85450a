// Package engine tracks open positions and evaluates their exit rules on a
// background goroutine. Exit decisions leave the engine only through two
// hand-off queues drained by the order-submission goroutine.
package engine

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/exit"
)

// Config holds engine timing parameters.
type Config struct {
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// Status is a point-in-time view of the engine for the status endpoint.
type Status struct {
	State             string     `json:"state"`
	Bar               int64      `json:"bar"`
	Passes            int64      `json:"passes"`
	Faults            int64      `json:"faults"`
	Registry          Counts     `json:"registry"`
	PendingDeletions  int        `json:"pending_deletions"`
	PendingPromotions int        `json:"pending_promotions"`
	Rules             exit.Rules `json:"rules"`
}

// Engine owns the registry, the hand-off queues and the scheduler.
type Engine struct {
	cfg        Config
	reg        *Registry
	deletions  *Queue[*domain.MonitorEntry]
	promotions *Queue[*domain.PositionRecord]
	sched      *Scheduler
	bar        atomic.Int64
	logger     *slog.Logger
}

// New creates an engine. Nil lookups fall back to neutral values and a nil
// recorder discards measurements.
func New(cfg Config, rules exit.Rules, lookups Lookups, recorder Recorder, logger *slog.Logger) *Engine {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 2 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	logger = logger.With(slog.String("component", "engine"))
	e := &Engine{
		cfg:        cfg,
		reg:        NewRegistry(),
		deletions:  NewQueue[*domain.MonitorEntry](),
		promotions: NewQueue[*domain.PositionRecord](),
		logger:     logger,
	}
	e.sched = newScheduler(
		e.reg,
		exit.NewEvaluator(rules),
		exit.NewStatsUpdater(rules),
		lookups,
		e.deletions,
		e.promotions,
		recorder,
		e.bar.Load,
		logger,
	)
	return e
}

// RegisterPosition adds a record, its monitor entry and an optional entry
// intent to the registry.
func (e *Engine) RegisterPosition(rec *domain.PositionRecord, entry *domain.MonitorEntry, intent *domain.EntryIntent) error {
	if err := e.reg.Register(rec, entry, intent); err != nil {
		return fmt.Errorf("engine: register %s: %w", rec.EntryID, err)
	}
	e.logger.Debug("position registered",
		slog.String("entry_id", rec.EntryID),
		slog.String("exit_id", rec.ExitID),
		slog.String("instrument", rec.Instrument),
		slog.String("direction", string(rec.Direction)),
		slog.Float64("quantity", rec.Quantity),
	)
	return nil
}

// SignalWorkAvailable wakes the scheduler for one pass.
func (e *Engine) SignalWorkAvailable() {
	e.sched.Signal()
}

// SetBar publishes the current bar index used for position age.
func (e *Engine) SetBar(bar int64) {
	e.bar.Store(bar)
}

// Bar returns the current bar index.
func (e *Engine) Bar() int64 {
	return e.bar.Load()
}

// Start launches the scheduler. A timeout is fatal for the caller.
func (e *Engine) Start() error {
	if err := e.sched.Start(e.cfg.StartTimeout); err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}
	return nil
}

// Stop shuts the scheduler down. A timeout is fatal for the caller.
func (e *Engine) Stop() error {
	if err := e.sched.Stop(e.cfg.StopTimeout); err != nil {
		return fmt.Errorf("engine: stop: %w", err)
	}
	return nil
}

// RequestExit flags an open position for exit with the manual reason and
// wakes the scheduler. Repeated requests are no-ops.
func (e *Engine) RequestExit(entryID string) error {
	rec, ok := e.reg.Record(entryID)
	if !ok {
		return fmt.Errorf("engine: request exit %s: %w", entryID, domain.ErrNotFound)
	}
	if rec.Exited() {
		return fmt.Errorf("engine: request exit %s: %w", entryID, domain.ErrAlreadyExited)
	}
	if !rec.Open() {
		return fmt.Errorf("engine: request exit %s: %w", entryID, domain.ErrNotEligible)
	}
	if rec.MarkExit(domain.ReasonManual, domain.CodeManual) {
		e.logger.Info("manual exit requested", slog.String("entry_id", entryID))
	}
	e.sched.Signal()
	return nil
}

// Registry exposes the shared registry to the order-submission goroutine.
func (e *Engine) Registry() *Registry {
	return e.reg
}

// Deletions is the queue of monitor entries to remove from the registry.
func (e *Engine) Deletions() *Queue[*domain.MonitorEntry] {
	return e.deletions
}

// Promotions is the queue of records that need an exit order.
func (e *Engine) Promotions() *Queue[*domain.PositionRecord] {
	return e.promotions
}

// Status returns a point-in-time view of the engine.
func (e *Engine) Status() Status {
	return Status{
		State:             e.sched.State().String(),
		Bar:               e.bar.Load(),
		Passes:            e.sched.Passes(),
		Faults:            e.sched.Faults(),
		Registry:          e.reg.Counts(),
		PendingDeletions:  e.deletions.Len(),
		PendingPromotions: e.promotions.Len(),
		Rules:             e.sched.eval.Rules(),
	}
}
