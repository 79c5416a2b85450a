// Package executor is the single order-submission goroutine. It turns entry
// signals into tracked positions, submits entry and exit orders, drains the
// engine's hand-off queues and applies fill confirmations.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/engine"
	"github.com/alanyoungcy/exitwatch/internal/exit"
)

// Engine is the part of the exit engine the executor drives.
type Engine interface {
	RegisterPosition(rec *domain.PositionRecord, entry *domain.MonitorEntry, intent *domain.EntryIntent) error
	SignalWorkAvailable()
	SetBar(bar int64)
	Registry() *engine.Registry
	Deletions() *engine.Queue[*domain.MonitorEntry]
	Promotions() *engine.Queue[*domain.PositionRecord]
}

// EventSink receives lifecycle events. Emit must not block for long.
type EventSink interface {
	Emit(ctx context.Context, ev domain.Event)
}

// Recorder receives submission measurements.
type Recorder interface {
	Submission(purpose domain.OrderPurpose, outcome string)
}

// Sessions reports the current session identifier.
type Sessions interface {
	Current() string
}

// Instrument is the per-symbol context needed to open and value a position.
type Instrument struct {
	SeriesIndex     int
	PointValue      float64
	DefaultQuantity float64
}

// Config holds executor parameters.
type Config struct {
	BarInterval       time.Duration
	DedupWindow       time.Duration
	MonitorOnly       bool
	DefaultStopLoss   float64
	DefaultTakeProfit float64
	Instruments       map[string]Instrument
}

type confirmation struct {
	clientID string
	fill     domain.Fill
	result   chan error
}

type pruneRequest struct {
	sessionID string
	result    chan []*domain.PositionRecord
}

// Executor owns every structural change to the registry and every call into
// the OrderRouter. All of its work happens on the goroutine running Run.
type Executor struct {
	cfg      Config
	eng      Engine
	router   domain.OrderRouter
	journal  domain.JournalStore
	events   EventSink
	recorder Recorder
	sessions Sessions
	signalCh <-chan domain.EntrySignal
	dedup    *Dedup
	logger   *slog.Logger

	confirmCh chan confirmation
	pruneCh   chan pruneRequest
	running   atomic.Bool
	stopped   chan struct{}
	bar       int64
	disabled  atomic.Bool
	now       func() time.Time

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor that reads entry signals from signalCh and
// routes orders through router. journal, events and recorder may be nil.
func NewExecutor(
	cfg Config,
	eng Engine,
	router domain.OrderRouter,
	signalCh <-chan domain.EntrySignal,
	sessions Sessions,
	journal domain.JournalStore,
	events EventSink,
	recorder Recorder,
	logger *slog.Logger,
) *Executor {
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Minute
	}
	return &Executor{
		cfg:             cfg,
		eng:             eng,
		router:          router,
		journal:         journal,
		events:          events,
		recorder:        recorder,
		sessions:        sessions,
		signalCh:        signalCh,
		dedup:           NewDedup(cfg.DedupWindow),
		logger:          logger.With(slog.String("component", "executor")),
		confirmCh:       make(chan confirmation),
		pruneCh:         make(chan pruneRequest),
		stopped:         make(chan struct{}),
		now:             time.Now,
		cleanupInterval: 30 * time.Second,
	}
}

// Run ticks once per bar until ctx is cancelled. Each tick applies queued
// hand-offs, submits ready entries and wakes the scheduler. Run must be called
// at most once.
func (e *Executor) Run(ctx context.Context) error {
	e.running.Store(true)
	defer close(e.stopped)
	e.logger.Info("executor started",
		slog.Duration("bar_interval", e.cfg.BarInterval),
		slog.Bool("monitor_only", e.cfg.MonitorOnly),
	)
	defer e.logger.Info("executor stopped")

	ticker := time.NewTicker(e.cfg.BarInterval)
	defer ticker.Stop()
	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case sig, ok := <-e.signalCh:
			if !ok {
				e.signalCh = nil
				continue
			}
			if err := e.Accept(ctx, sig); err != nil {
				e.logger.Warn("entry signal rejected",
					slog.String("signal_id", sig.ID),
					slog.String("error", err.Error()),
				)
			}

		case c := <-e.confirmCh:
			c.result <- e.applyConfirmation(ctx, c.clientID, c.fill)

		case req := <-e.pruneCh:
			req.result <- e.eng.Registry().PruneClosed(req.sessionID)

		case <-ticker.C:
			e.Tick(ctx)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// Tick runs one submission cycle.
func (e *Executor) Tick(ctx context.Context) {
	e.processPromotions(ctx)
	e.processDeletions()
	e.submitEntries(ctx)

	e.bar++
	e.eng.SetBar(e.bar)
	e.eng.SignalWorkAvailable()
}

// Disable stops new entries from being submitted. It is used when the engine
// can no longer supervise positions.
func (e *Executor) Disable(reason string) {
	if e.disabled.CompareAndSwap(false, true) {
		e.logger.Error("automated trading disabled", slog.String("reason", reason))
		e.emit(context.Background(), domain.Event{Type: domain.EventEngineFault, Detail: reason})
	}
}

// Disabled reports whether automated trading is disabled.
func (e *Executor) Disabled() bool {
	return e.disabled.Load()
}

// Accept turns an entry signal into a record, monitor entry and entry intent
// and registers them. The order is submitted on the next tick.
func (e *Executor) Accept(ctx context.Context, sig domain.EntrySignal) error {
	if e.disabled.Load() {
		return domain.ErrTradingDisabled
	}
	if sig.ID != "" && e.dedup.IsDuplicate("signal:"+sig.ID) {
		return fmt.Errorf("executor: accept %s: %w", sig.ID, domain.ErrAlreadyExists)
	}
	if sig.Expired(e.now()) {
		return fmt.Errorf("executor: accept %s: signal expired at %s", sig.ID, sig.ExpiresAt.Format(time.RFC3339))
	}
	if !sig.Direction.Valid() {
		return fmt.Errorf("executor: accept %s: invalid direction %q", sig.ID, sig.Direction)
	}
	inst, ok := e.cfg.Instruments[sig.Instrument]
	if !ok {
		return fmt.Errorf("executor: accept %s: instrument %q: %w", sig.ID, sig.Instrument, domain.ErrNotFound)
	}
	qty := sig.Quantity
	if qty <= 0 {
		qty = inst.DefaultQuantity
	}
	if qty <= 0 {
		return fmt.Errorf("executor: accept %s: quantity must be > 0", sig.ID)
	}
	if e.cfg.MonitorOnly && !(sig.Price > 0) {
		// The signal price becomes the fill price in monitor mode.
		return fmt.Errorf("executor: accept %s: price must be > 0 in monitor mode", sig.ID)
	}
	ref := sig.SignalRef
	if ref == "" {
		ref = sig.ID
	}
	entryBar := e.bar
	if sig.Bar > 0 && sig.Bar <= e.bar {
		entryBar = sig.Bar
	}

	rec := &domain.PositionRecord{
		EntryID:    uuid.NewString(),
		ExitID:     uuid.NewString(),
		SessionID:  e.sessions.Current(),
		Instrument: sig.Instrument,
		PatternID:  sig.PatternID,
		SignalRef:  ref,
		EntryBar:   entryBar,
		EntryTime:  e.now().UTC(),
		EntryPrice: sig.Price,
		Direction:  sig.Direction,
		Quantity:   qty,
		StopLoss:   orDefault(sig.StopLoss, e.cfg.DefaultStopLoss),
		TakeProfit: orDefault(sig.TakeProfit, e.cfg.DefaultTakeProfit),
	}
	entry := domain.NewMonitorEntry(rec, inst.SeriesIndex, inst.PointValue)
	intent := domain.NewEntryIntent(rec)
	if err := e.eng.RegisterPosition(rec, entry, intent); err != nil {
		return fmt.Errorf("executor: accept %s: %w", sig.ID, err)
	}
	e.persist(ctx, rec)
	e.logger.Info("entry intent registered",
		slog.String("entry_id", rec.EntryID),
		slog.String("signal_id", sig.ID),
		slog.String("instrument", rec.Instrument),
		slog.String("direction", string(rec.Direction)),
		slog.Float64("quantity", rec.Quantity),
	)
	return nil
}

// Restore re-registers open positions loaded from the journal.
func (e *Executor) Restore(ctx context.Context, views []domain.PositionView) int {
	restored := 0
	for _, v := range views {
		if v.EntryOrder == nil || v.ExitOrder != nil {
			continue
		}
		inst, ok := e.cfg.Instruments[v.Instrument]
		if !ok {
			e.logger.Warn("restore: unknown instrument, skipping",
				slog.String("entry_id", v.EntryID),
				slog.String("instrument", v.Instrument),
			)
			continue
		}
		rec := domain.RestoreRecord(v)
		entry := domain.NewMonitorEntry(rec, inst.SeriesIndex, inst.PointValue)
		if err := e.eng.RegisterPosition(rec, entry, nil); err != nil {
			e.logger.Warn("restore: register failed", slog.String("entry_id", v.EntryID), slog.String("error", err.Error()))
			continue
		}
		if rec.ExitPending() {
			// Awaiting an external fill confirmation; not monitored.
			continue
		}
		if err := entry.Arm(); err != nil {
			e.logger.Warn("restore: arm failed", slog.String("entry_id", v.EntryID), slog.String("error", err.Error()))
			continue
		}
		if v.Stats.Bar > e.bar {
			e.bar = v.Stats.Bar
		}
		restored++
	}
	if restored > 0 {
		e.eng.SetBar(e.bar)
		e.logger.Info("open positions restored", slog.Int("count", restored))
	}
	return restored
}

// ConfirmFill applies an asynchronous fill confirmation for an entry or exit
// order identified by clientID. It is safe to call from any goroutine; the
// confirmation is applied on the executor goroutine.
func (e *Executor) ConfirmFill(ctx context.Context, clientID string, fill domain.Fill) error {
	c := confirmation{clientID: clientID, fill: fill, result: make(chan error, 1)}
	select {
	case e.confirmCh <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PruneClosed removes the exited and rejected records of sessionID from the
// registry. While Run is active the removal happens on the executor
// goroutine; before Run starts or after it returns it happens in place.
func (e *Executor) PruneClosed(ctx context.Context, sessionID string) ([]*domain.PositionRecord, error) {
	if !e.running.Load() {
		return e.eng.Registry().PruneClosed(sessionID), nil
	}
	req := pruneRequest{sessionID: sessionID, result: make(chan []*domain.PositionRecord, 1)}
	select {
	case e.pruneCh <- req:
	case <-e.stopped:
		return e.eng.Registry().PruneClosed(sessionID), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case pruned := <-req.result:
		return pruned, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) applyConfirmation(ctx context.Context, clientID string, fill domain.Fill) error {
	reg := e.eng.Registry()
	if rec, ok := reg.RecordByExitID(clientID); ok {
		return e.applyExitFill(ctx, rec, fill)
	}
	if rec, ok := reg.Record(clientID); ok {
		return e.applyEntryFill(ctx, rec, fill)
	}
	return fmt.Errorf("executor: confirm %s: %w", clientID, domain.ErrNotFound)
}

// submitEntries submits every ready entry intent exactly once.
func (e *Executor) submitEntries(ctx context.Context) {
	reg := e.eng.Registry()
	for _, intent := range reg.ReadyIntents() {
		if e.disabled.Load() {
			return
		}
		if !intent.Consume() {
			continue
		}
		rec := intent.Record
		log := e.logger.With(slog.String("entry_id", rec.EntryID), slog.String("instrument", rec.Instrument))

		var (
			fill domain.Fill
			err  error
		)
		if e.cfg.MonitorOnly {
			// Positions are opened elsewhere; the signal price is the fill.
			fill = domain.Fill{OrderID: "external-" + rec.EntryID, ClientID: rec.EntryID, Price: rec.EntryPrice, Quantity: intent.Quantity, FilledAt: e.now().UTC()}
		} else {
			fill, err = e.router.Submit(ctx, domain.OrderRequest{
				ClientID:   rec.EntryID,
				EntryID:    rec.EntryID,
				Instrument: rec.Instrument,
				Side:       domain.EntrySide(intent.Direction),
				Purpose:    domain.PurposeEntry,
				Quantity:   intent.Quantity,
				CreatedAt:  e.now().UTC(),
			})
		}
		reg.RemoveIntent(rec.EntryID)

		if err != nil {
			e.record(domain.PurposeEntry, "error")
			log.Error("entry submission failed", slog.String("error", err.Error()))
			e.rejectEntry(ctx, rec, err.Error())
			continue
		}
		if fill.Pending {
			e.record(domain.PurposeEntry, "pending")
			log.Info("entry order working", slog.String("order_id", fill.OrderID))
			continue
		}
		e.record(domain.PurposeEntry, "filled")
		if err := e.applyEntryFill(ctx, rec, fill); err != nil {
			log.Error("entry fill not applied", slog.String("error", err.Error()))
			e.rejectEntry(ctx, rec, err.Error())
		}
	}
}

// rejectEntry drops the monitor entry of an unfilled position and marks the
// record terminal so a late confirmation cannot open it unmonitored.
func (e *Executor) rejectEntry(ctx context.Context, rec *domain.PositionRecord, detail string) {
	if !rec.Reject() {
		return
	}
	e.eng.Registry().RemoveEntry(rec.EntryID)
	e.persist(ctx, rec)
	e.emit(ctx, domain.Event{
		Type: domain.EventEntryRejected, SessionID: rec.SessionID, EntryID: rec.EntryID,
		Instrument: rec.Instrument, Direction: rec.Direction, Detail: detail,
	})
}

func (e *Executor) applyEntryFill(ctx context.Context, rec *domain.PositionRecord, fill domain.Fill) error {
	if rec.Rejected() {
		return fmt.Errorf("executor: entry fill %s: entry was rejected: %w", rec.EntryID, domain.ErrNotEligible)
	}
	if !(fill.Price > 0) {
		return fmt.Errorf("executor: entry fill %s: invalid fill price %v", rec.EntryID, fill.Price)
	}
	entry, ok := e.eng.Registry().Entry(rec.EntryID)
	if !ok {
		return fmt.Errorf("executor: entry fill %s: monitor entry: %w", rec.EntryID, domain.ErrNotFound)
	}
	if err := rec.SetEntryFilled(fill.Handle()); err != nil {
		return fmt.Errorf("executor: entry fill %s: %w", rec.EntryID, err)
	}
	if err := entry.Arm(); err != nil {
		return fmt.Errorf("executor: entry fill %s: %w", rec.EntryID, err)
	}
	e.persist(ctx, rec)
	e.logger.Info("entry filled",
		slog.String("entry_id", rec.EntryID),
		slog.String("order_id", fill.OrderID),
		slog.Float64("price", fill.Price),
	)
	e.emit(ctx, domain.Event{
		Type: domain.EventEntryFilled, SessionID: rec.SessionID, EntryID: rec.EntryID, ExitID: rec.ExitID,
		Instrument: rec.Instrument, Direction: rec.Direction, Price: fill.Price,
	})
	return nil
}

// processPromotions submits an exit order for every promoted record. Records
// already exited or with a working exit order are skipped.
func (e *Executor) processPromotions(ctx context.Context) {
	reg := e.eng.Registry()
	for _, rec := range e.eng.Promotions().Drain() {
		if rec.Exited() || rec.ExitPending() {
			continue
		}
		if e.dedup.IsDuplicate(rec.ExitID) {
			continue
		}
		stats := rec.Stats()
		_, reason, code := rec.ForceExit()
		log := e.logger.With(
			slog.String("entry_id", rec.EntryID),
			slog.String("exit_id", rec.ExitID),
			slog.String("reason", reason.String()),
			slog.String("code", code),
		)
		e.emit(ctx, domain.Event{
			Type: domain.EventExitDecided, SessionID: rec.SessionID, EntryID: rec.EntryID, ExitID: rec.ExitID,
			Instrument: rec.Instrument, Direction: rec.Direction, Reason: reason.String(), Code: code,
			Price: stats.LastPrice, Profit: stats.UnrealizedProfit,
		})

		if e.cfg.MonitorOnly {
			rec.SetExitPending(true)
			reg.RemoveEntry(rec.EntryID)
			e.persist(ctx, rec)
			log.Warn("exit required, awaiting manual execution", slog.Float64("profit", stats.UnrealizedProfit))
			continue
		}

		fill, err := e.router.Submit(ctx, domain.OrderRequest{
			ClientID:   rec.ExitID,
			EntryID:    rec.EntryID,
			Instrument: rec.Instrument,
			Side:       domain.ExitSide(rec.Direction),
			Purpose:    domain.PurposeExit,
			Quantity:   rec.Quantity,
			CreatedAt:  e.now().UTC(),
		})
		if err != nil {
			e.record(domain.PurposeExit, "error")
			e.dedup.Forget(rec.ExitID)
			log.Error("exit submission failed, re-arming", slog.String("error", err.Error()))
			if entry, ok := reg.Entry(rec.EntryID); ok {
				if armErr := entry.Arm(); armErr != nil {
					log.Warn("re-arm failed", slog.String("error", armErr.Error()))
				}
			}
			e.emit(ctx, domain.Event{
				Type: domain.EventExitRejected, SessionID: rec.SessionID, EntryID: rec.EntryID, ExitID: rec.ExitID,
				Instrument: rec.Instrument, Reason: reason.String(), Code: code, Detail: err.Error(),
			})
			continue
		}

		if fill.Pending {
			e.record(domain.PurposeExit, "pending")
			rec.SetExitPending(true)
			reg.RemoveEntry(rec.EntryID)
			e.persist(ctx, rec)
			log.Info("exit order working", slog.String("order_id", fill.OrderID))
			e.emit(ctx, domain.Event{
				Type: domain.EventExitSubmitted, SessionID: rec.SessionID, EntryID: rec.EntryID, ExitID: rec.ExitID,
				Instrument: rec.Instrument, Reason: reason.String(), Code: code,
			})
			continue
		}
		e.record(domain.PurposeExit, "filled")
		if err := e.applyExitFill(ctx, rec, fill); err != nil && !errors.Is(err, domain.ErrAlreadyExited) {
			log.Warn("exit fill not applied", slog.String("error", err.Error()))
		}
	}
}

func (e *Executor) applyExitFill(ctx context.Context, rec *domain.PositionRecord, fill domain.Fill) error {
	if err := rec.SetExitFilled(fill.Handle()); err != nil {
		return fmt.Errorf("executor: exit fill %s: %w", rec.ExitID, err)
	}
	reg := e.eng.Registry()
	pv := 1.0
	if entry, ok := reg.Entry(rec.EntryID); ok {
		entry.Disarm()
		pv = entry.PointValue
	} else if inst, ok := e.cfg.Instruments[rec.Instrument]; ok {
		pv = inst.PointValue
	}
	reg.RemoveEntry(rec.EntryID)

	realized := exit.Profit(rec.Direction, rec.FillPrice(), fill.Price, rec.Quantity, pv)
	e.persist(ctx, rec)
	e.logger.Info("exit filled",
		slog.String("entry_id", rec.EntryID),
		slog.String("exit_id", rec.ExitID),
		slog.String("order_id", fill.OrderID),
		slog.Float64("price", fill.Price),
		slog.Float64("realized", realized),
		slog.String("reason", rec.ExitReason().String()),
	)
	_, reason, code := rec.ForceExit()
	e.emit(ctx, domain.Event{
		Type: domain.EventExitFilled, SessionID: rec.SessionID, EntryID: rec.EntryID, ExitID: rec.ExitID,
		Instrument: rec.Instrument, Direction: rec.Direction, Reason: reason.String(), Code: code,
		Price: fill.Price, Profit: realized,
	})
	return nil
}

// processDeletions removes handed-off entries once their record has an exit
// handle or a working exit order. Entries re-armed after a failed submission
// stay registered. Removal is idempotent.
func (e *Executor) processDeletions() {
	reg := e.eng.Registry()
	for _, entry := range e.eng.Deletions().Drain() {
		rec := entry.Record
		switch {
		case rec.Exited() || rec.ExitPending():
			reg.RemoveEntry(entry.ID())
		case entry.Eligible():
			e.logger.Debug("deletion skipped, entry re-armed", slog.String("entry_id", entry.ID()))
		default:
			// The matching promotion removes it.
			e.logger.Debug("deletion deferred to promotion", slog.String("entry_id", entry.ID()))
		}
	}
}

// drain applies hand-offs one last time after cancellation so no decision is
// left unlogged.
func (e *Executor) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n := e.eng.Promotions().Len(); n > 0 {
		e.logger.Warn("draining promotions after shutdown", slog.Int("count", n))
	}
	e.processPromotions(ctx)
	e.processDeletions()
}

func (e *Executor) persist(ctx context.Context, rec *domain.PositionRecord) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Upsert(ctx, rec.View()); err != nil {
		e.logger.Warn("journal upsert failed",
			slog.String("entry_id", rec.EntryID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) emit(ctx context.Context, ev domain.Event) {
	if e.events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now().UTC()
	}
	e.events.Emit(ctx, ev)
}

func (e *Executor) record(p domain.OrderPurpose, outcome string) {
	if e.recorder != nil {
		e.recorder.Submission(p, outcome)
	}
}

func orDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
