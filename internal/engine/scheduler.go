package engine

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/exit"
)

// State is the scheduler lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Recorder receives scheduler measurements.
type Recorder interface {
	PassCompleted(d time.Duration, evaluated int)
	Decision(action domain.ExitAction)
	Fault()
}

type nopRecorder struct{}

func (nopRecorder) PassCompleted(time.Duration, int) {}
func (nopRecorder) Decision(domain.ExitAction)       {}
func (nopRecorder) Fault()                           {}

// Lookups are the in-memory data sources the scheduler reads on every pass.
// None of them may block on the network.
type Lookups struct {
	Quotes     domain.QuoteSource
	Divergence domain.DivergenceSource
	Confidence domain.ConfidenceSource
	Bands      domain.BandSource
}

type neutral struct{}

func (neutral) Quote(string) (domain.Quote, bool) { return domain.Quote{}, false }
func (neutral) DivergenceScore(string) float64    { return 0 }
func (neutral) PatternConfidence(string) float64  { return 1 }
func (neutral) Band(string) (domain.Band, bool)   { return domain.Band{}, false }

func (l Lookups) withDefaults() Lookups {
	if l.Quotes == nil {
		l.Quotes = neutral{}
	}
	if l.Divergence == nil {
		l.Divergence = neutral{}
	}
	if l.Confidence == nil {
		l.Confidence = neutral{}
	}
	if l.Bands == nil {
		l.Bands = neutral{}
	}
	return l
}

// Scheduler is the background evaluation worker. It sleeps until work is
// signalled, evaluates every eligible entry once, and hands exit decisions to
// the order-submission goroutine through the deletion and promotion queues.
// It never submits orders itself.
type Scheduler struct {
	reg        *Registry
	eval       *exit.Evaluator
	stats      *exit.StatsUpdater
	lookups    Lookups
	deletions  *Queue[*domain.MonitorEntry]
	promotions *Queue[*domain.PositionRecord]
	recorder   Recorder
	bar        func() int64
	now        func() time.Time
	logger     *slog.Logger

	state    atomic.Int32
	work     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	started  chan struct{}
	startMu  sync.Mutex
	launched bool
	stopOnce sync.Once

	passes atomic.Int64
	faults atomic.Int64
}

func newScheduler(
	reg *Registry,
	eval *exit.Evaluator,
	stats *exit.StatsUpdater,
	lookups Lookups,
	deletions *Queue[*domain.MonitorEntry],
	promotions *Queue[*domain.PositionRecord],
	recorder Recorder,
	bar func() int64,
	logger *slog.Logger,
) *Scheduler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Scheduler{
		reg:        reg,
		eval:       eval,
		stats:      stats,
		lookups:    lookups.withDefaults(),
		deletions:  deletions,
		promotions: promotions,
		recorder:   recorder,
		bar:        bar,
		now:        time.Now,
		logger:     logger,
		work:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		started:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Passes returns the number of completed evaluation passes.
func (s *Scheduler) Passes() int64 {
	return s.passes.Load()
}

// Faults returns the number of recovered per-entry evaluation faults.
func (s *Scheduler) Faults() int64 {
	return s.faults.Load()
}

// Signal wakes the worker. Signals raised while a pass is running coalesce
// into one more pass.
func (s *Scheduler) Signal() {
	select {
	case s.work <- struct{}{}:
	default:
	}
}

// Start launches the worker and waits up to timeout for it to report ready.
func (s *Scheduler) Start(timeout time.Duration) error {
	s.startMu.Lock()
	if s.launched {
		s.startMu.Unlock()
		return nil
	}
	if s.State() == StateStopped || s.State() == StateStopping {
		s.startMu.Unlock()
		return domain.ErrEngineStopped
	}
	s.launched = true
	s.startMu.Unlock()

	go s.run()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.started:
		return nil
	case <-t.C:
		return domain.ErrStartTimeout
	}
}

// Stop requests shutdown and waits up to timeout for the worker to exit. A
// pass in progress is abandoned at the next entry boundary.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateStopping))
		close(s.stop)
	})

	s.startMu.Lock()
	launched := s.launched
	s.startMu.Unlock()
	if !launched {
		s.state.Store(int32(StateStopped))
		return nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.done:
		return nil
	case <-t.C:
		return domain.ErrStopTimeout
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	defer s.state.Store(int32(StateStopped))

	close(s.started)
	s.logger.Info("scheduler: started")

	for {
		// Stop wins over pending work.
		select {
		case <-s.stop:
			s.logger.Info("scheduler: stopped", slog.Int64("passes", s.passes.Load()))
			return
		default:
		}

		select {
		case <-s.stop:
			s.logger.Info("scheduler: stopped", slog.Int64("passes", s.passes.Load()))
			return
		case <-s.work:
			if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
				continue
			}
			s.pass()
			s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
		}
	}
}

func (s *Scheduler) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// pass evaluates one snapshot of eligible entries in insertion order.
func (s *Scheduler) pass() {
	start := s.now()
	snapshot := s.reg.EligibleSnapshot()
	bar := s.bar()

	evaluated := 0
	for _, entry := range snapshot {
		if s.stopRequested() {
			s.logger.Info("scheduler: pass aborted by stop",
				slog.Int("evaluated", evaluated),
				slog.Int("snapshot", len(snapshot)),
			)
			return
		}
		s.evaluate(entry, bar)
		evaluated++
	}

	s.passes.Add(1)
	s.recorder.PassCompleted(s.now().Sub(start), evaluated)
}

// evaluate runs the statistics update and the exit rules for one entry. A
// panic is contained to this entry.
func (s *Scheduler) evaluate(entry *domain.MonitorEntry, bar int64) {
	defer func() {
		if r := recover(); r != nil {
			s.faults.Add(1)
			s.recorder.Fault()
			rec := entry.Record
			attrs := []any{slog.String("panic", fmt.Sprint(r)), slog.String("stack", string(debug.Stack()))}
			if rec != nil {
				attrs = append(attrs, slog.String("entry_id", rec.EntryID), slog.String("exit_id", rec.ExitID))
			}
			s.logger.Error("scheduler: evaluation fault", attrs...)
		}
	}()

	if !entry.Eligible() {
		return
	}
	rec := entry.Record
	if rec.Exited() {
		entry.Disarm()
		return
	}

	now := s.now()
	q, hasQuote := s.lookups.Quotes.Quote(rec.Instrument)
	div := s.lookups.Divergence.DivergenceScore(rec.EntryID)
	stats := s.stats.Update(entry, q, hasQuote, div, bar, now)

	force, reason, code := rec.ForceExit()
	band, hasBand := s.lookups.Bands.Band(rec.Instrument)
	d := s.eval.Evaluate(exit.Input{
		Eligible:    true,
		Direction:   entry.Direction,
		Quantity:    entry.Quantity,
		Stats:       stats,
		Age:         exit.Age(rec, bar),
		StopLoss:    rec.StopLoss,
		TakeProfit:  rec.TakeProfit,
		Quote:       q,
		HasQuote:    hasQuote,
		Band:        band,
		HasBand:     hasBand,
		Divergence:  div,
		Confidence:  s.lookups.Confidence.PatternConfidence(rec.PatternID),
		ForceExit:   force,
		ForceReason: reason,
		ForceCode:   code,
	})
	s.recorder.Decision(d.Action)
	if !d.IsExit() {
		return
	}

	if d.Action != domain.ActionExternalForce && !rec.MarkExit(d.Reason, d.Code) {
		// A reason was recorded since the force flag was read. Keep it.
		_, d.Reason, d.Code = rec.ForceExit()
	}

	// Only the goroutine that disarms the entry hands it off.
	if !entry.Disarm() {
		return
	}
	s.promotions.Push(rec)
	s.deletions.Push(entry)

	s.logger.Info("scheduler: exit decided",
		slog.String("entry_id", rec.EntryID),
		slog.String("exit_id", rec.ExitID),
		slog.String("instrument", rec.Instrument),
		slog.String("action", d.Action.String()),
		slog.String("reason", d.Reason.String()),
		slog.String("code", d.Code),
		slog.Float64("profit", stats.UnrealizedProfit),
		slog.Float64("all_time_high", stats.AllTimeHigh),
		slog.Float64("all_time_low", stats.AllTimeLow),
		slog.Int64("age", exit.Age(rec, bar)),
		slog.String("detail", d.Detail),
	)
}
