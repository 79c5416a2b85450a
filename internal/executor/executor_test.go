package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/engine"
	"github.com/alanyoungcy/exitwatch/internal/exit"
)

type staticQuotes map[string]domain.Quote

func (s staticQuotes) Quote(instrument string) (domain.Quote, bool) {
	q, ok := s[instrument]
	return q, ok
}

type fakeRouter struct {
	mu       sync.Mutex
	requests []domain.OrderRequest
	err      error
	pending  bool
	price    float64

	// entered and release, when set, hold Submit until release is closed.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeRouter) Submit(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if f.release != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.Fill{}, f.err
	}
	return domain.Fill{OrderID: "ord-" + req.ClientID, ClientID: req.ClientID, Price: f.price, Quantity: req.Quantity, Pending: f.pending}, nil
}

func (f *fakeRouter) count(p domain.OrderPurpose) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Purpose == p {
			n++
		}
	}
	return n
}

type fakeJournal struct {
	mu    sync.Mutex
	views map[string]domain.PositionView
}

func (j *fakeJournal) Upsert(_ context.Context, v domain.PositionView) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.views == nil {
		j.views = map[string]domain.PositionView{}
	}
	j.views[v.EntryID] = v
	return nil
}
func (j *fakeJournal) GetByID(context.Context, string) (domain.PositionView, error) {
	return domain.PositionView{}, domain.ErrNotFound
}
func (j *fakeJournal) ListOpen(context.Context) ([]domain.PositionView, error) { return nil, nil }
func (j *fakeJournal) ListSession(context.Context, string, domain.ListOpts) ([]domain.PositionView, error) {
	return nil, nil
}
func (j *fakeJournal) MarkArchived(context.Context, string) (int64, error) { return 0, nil }

type fakeSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *fakeSink) Emit(_ context.Context, ev domain.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *fakeSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *fakeSink) last() domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type fixedSession string

func (f fixedSession) Current() string { return string(f) }

type harness struct {
	eng     *engine.Engine
	exec    *Executor
	router  *fakeRouter
	journal *fakeJournal
	sink    *fakeSink
}

func newHarness(t *testing.T, monitorOnly bool) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(engine.Config{}, exit.Rules{StopLoss: 50, TakeProfit: 100}, engine.Lookups{}, nil, logger)
	h := &harness{
		eng:     eng,
		router:  &fakeRouter{price: 101},
		journal: &fakeJournal{},
		sink:    &fakeSink{},
	}
	cfg := Config{
		BarInterval:       10 * time.Millisecond,
		MonitorOnly:       monitorOnly,
		DefaultStopLoss:   50,
		DefaultTakeProfit: 100,
		Instruments:       map[string]Instrument{"ES": {SeriesIndex: 0, PointValue: 50, DefaultQuantity: 1}},
	}
	h.exec = NewExecutor(cfg, eng, h.router, nil, fixedSession("s1"), h.journal, h.sink, nil, logger)
	return h
}

func (h *harness) openPosition(t *testing.T) *domain.PositionRecord {
	t.Helper()
	ctx := context.Background()
	if err := h.exec.Accept(ctx, domain.EntrySignal{ID: "sig-" + t.Name(), Instrument: "ES", Direction: domain.DirectionLong, Price: 100}); err != nil {
		t.Fatalf("Accept() = %v", err)
	}
	h.exec.Tick(ctx)
	recs := h.eng.Registry().Records()
	rec := recs[len(recs)-1]
	if rec.EntryOrder() == nil {
		t.Fatalf("entry not filled after tick")
	}
	return rec
}

// decideExit does what the scheduler does on an exit decision.
func (h *harness) decideExit(t *testing.T, rec *domain.PositionRecord, reason domain.ExitReason, code string) {
	t.Helper()
	entry, ok := h.eng.Registry().Entry(rec.EntryID)
	if !ok {
		t.Fatalf("no monitor entry for %s", rec.EntryID)
	}
	rec.MarkExit(reason, code)
	if !entry.Disarm() {
		t.Fatalf("entry %s was not armed", rec.EntryID)
	}
	h.eng.Promotions().Push(rec)
	h.eng.Deletions().Push(entry)
}

func TestAcceptAndSubmitEntry(t *testing.T) {
	h := newHarness(t, false)
	rec := h.openPosition(t)

	if rec.SessionID != "s1" || rec.StopLoss != 50 || rec.Quantity != 1 {
		t.Errorf("record = %+v", rec.View())
	}
	if rec.FillPrice() != 101 {
		t.Errorf("FillPrice() = %v, want router price 101", rec.FillPrice())
	}
	entry, ok := h.eng.Registry().Entry(rec.EntryID)
	if !ok || !entry.Eligible() || entry.PointValue != 50 {
		t.Fatalf("monitor entry = %+v, %v; want armed with point value 50", entry, ok)
	}
	if got := h.eng.Registry().Counts().Intents; got != 0 {
		t.Errorf("intents after submission = %d, want 0", got)
	}
	if got := h.eng.Bar(); got != 1 {
		t.Errorf("bar = %d, want 1", got)
	}
	if v, ok := h.journal.views[rec.EntryID]; !ok || v.EntryOrder == nil {
		t.Errorf("journal missing filled entry: %+v", v)
	}
	if got := h.sink.last().Type; got != domain.EventEntryFilled {
		t.Errorf("last event = %s, want entry_filled", got)
	}

	// A second tick never resubmits the consumed intent.
	h.exec.Tick(context.Background())
	if n := h.router.count(domain.PurposeEntry); n != 1 {
		t.Errorf("entry submissions = %d, want 1", n)
	}
}

func TestAcceptRejects(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	tests := []struct {
		name string
		sig  domain.EntrySignal
	}{
		{"unknown instrument", domain.EntrySignal{ID: "a", Instrument: "CL", Direction: domain.DirectionLong}},
		{"bad direction", domain.EntrySignal{ID: "b", Instrument: "ES", Direction: "flat"}},
		{"expired", domain.EntrySignal{ID: "c", Instrument: "ES", Direction: domain.DirectionLong, ExpiresAt: time.Now().Add(-time.Minute)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.exec.Accept(ctx, tt.sig); err == nil {
				t.Fatalf("Accept() = nil, want error")
			}
		})
	}

	ok := domain.EntrySignal{ID: "dup", Instrument: "ES", Direction: domain.DirectionShort}
	if err := h.exec.Accept(ctx, ok); err != nil {
		t.Fatalf("Accept() = %v", err)
	}
	if err := h.exec.Accept(ctx, ok); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate Accept() = %v, want ErrAlreadyExists", err)
	}

	h.exec.Disable("test")
	if err := h.exec.Accept(ctx, domain.EntrySignal{ID: "late", Instrument: "ES", Direction: domain.DirectionLong}); !errors.Is(err, domain.ErrTradingDisabled) {
		t.Fatalf("Accept() after Disable = %v, want ErrTradingDisabled", err)
	}
}

func TestEntrySubmissionFailureDropsPosition(t *testing.T) {
	h := newHarness(t, false)
	h.router.err = errors.New("venue down")
	ctx := context.Background()
	if err := h.exec.Accept(ctx, domain.EntrySignal{ID: "x", Instrument: "ES", Direction: domain.DirectionLong}); err != nil {
		t.Fatal(err)
	}
	h.exec.Tick(ctx)
	h.exec.Tick(ctx)
	c := h.eng.Registry().Counts()
	if c.Entries != 0 || c.Intents != 0 {
		t.Errorf("counts = %+v, want no entries or intents", c)
	}
	if n := h.router.count(domain.PurposeEntry); n != 1 {
		t.Errorf("entry submissions = %d, want exactly 1", n)
	}
	if got := h.sink.last().Type; got != domain.EventEntryRejected {
		t.Errorf("last event = %s, want entry_rejected", got)
	}
}

func TestLateConfirmationOfRejectedEntry(t *testing.T) {
	h := newHarness(t, false)
	h.router.err = errors.New("venue down")
	ctx := context.Background()
	if err := h.exec.Accept(ctx, domain.EntrySignal{ID: "late", Instrument: "ES", Direction: domain.DirectionLong, Price: 100}); err != nil {
		t.Fatal(err)
	}
	h.exec.Tick(ctx)
	rec := h.eng.Registry().Records()[0]
	if !rec.Rejected() {
		t.Fatalf("record not marked rejected after failed submission")
	}
	if v := h.journal.views[rec.EntryID]; v.Status() != "rejected" {
		t.Errorf("journal status = %q, want rejected", v.Status())
	}

	rctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.exec.Run(rctx) }()

	cctx, ccancel := context.WithTimeout(ctx, time.Second)
	defer ccancel()
	err := h.exec.ConfirmFill(cctx, rec.EntryID, domain.Fill{OrderID: "o", Price: 100, Quantity: 1})
	if !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("ConfirmFill(rejected entry) = %v, want ErrNotEligible", err)
	}
	cancel()
	<-done

	if rec.Open() || rec.EntryOrder() != nil {
		t.Fatalf("rejected record opened by late confirmation: %+v", rec.View())
	}
	if got := h.eng.Registry().PruneClosed("s1"); len(got) != 1 {
		t.Errorf("PruneClosed() = %d records, want the rejected one", len(got))
	}
}

func TestEntryFillRequiresPrice(t *testing.T) {
	t.Run("monitor mode signal without price", func(t *testing.T) {
		h := newHarness(t, true)
		err := h.exec.Accept(context.Background(), domain.EntrySignal{ID: "np", Instrument: "ES", Direction: domain.DirectionLong})
		if err == nil {
			t.Fatal("Accept() = nil, want error for missing price")
		}
		if c := h.eng.Registry().Counts(); c.Records != 0 {
			t.Errorf("counts = %+v, want nothing registered", c)
		}
	})

	t.Run("router fill without price", func(t *testing.T) {
		h := newHarness(t, false)
		h.router.price = 0
		ctx := context.Background()
		if err := h.exec.Accept(ctx, domain.EntrySignal{ID: "zp", Instrument: "ES", Direction: domain.DirectionLong}); err != nil {
			t.Fatal(err)
		}
		h.exec.Tick(ctx)
		rec := h.eng.Registry().Records()[0]
		if rec.Open() {
			t.Fatalf("record opened at price 0")
		}
		if _, ok := h.eng.Registry().Entry(rec.EntryID); ok {
			t.Errorf("monitor entry kept for unpriced fill")
		}
		if got := h.sink.last().Type; got != domain.EventEntryRejected {
			t.Errorf("last event = %s, want entry_rejected", got)
		}
	})

	t.Run("pending entry confirmed without price", func(t *testing.T) {
		h := newHarness(t, false)
		h.router.pending = true
		ctx := context.Background()
		if err := h.exec.Accept(ctx, domain.EntrySignal{ID: "pp", Instrument: "ES", Direction: domain.DirectionLong}); err != nil {
			t.Fatal(err)
		}
		h.exec.Tick(ctx)
		rec := h.eng.Registry().Records()[0]
		if err := h.exec.applyConfirmation(ctx, rec.EntryID, domain.Fill{OrderID: "o"}); err == nil {
			t.Fatal("applyConfirmation(price 0) = nil, want error")
		}
		entry, _ := h.eng.Registry().Entry(rec.EntryID)
		if rec.EntryOrder() != nil || entry.Eligible() {
			t.Fatalf("entry armed by unpriced confirmation")
		}
		if err := h.exec.applyConfirmation(ctx, rec.EntryID, domain.Fill{OrderID: "o", Price: 100.5}); err != nil {
			t.Fatalf("applyConfirmation() = %v", err)
		}
		if !entry.Eligible() || rec.FillPrice() != 100.5 {
			t.Errorf("entry not armed at confirmed price: eligible=%v price=%v", entry.Eligible(), rec.FillPrice())
		}
	})
}

func TestAcceptSignalContext(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		h.exec.Tick(ctx)
	}
	tests := []struct {
		name    string
		sig     domain.EntrySignal
		wantRef string
		wantBar int64
	}{
		{"explicit ref and bar", domain.EntrySignal{ID: "c1", SignalRef: "pattern-7", Bar: 3}, "pattern-7", 3},
		{"ref defaults to id", domain.EntrySignal{ID: "c2"}, "c2", 5},
		{"bar ahead of clock", domain.EntrySignal{ID: "c3", Bar: 40}, "c3", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := tt.sig
			sig.Instrument, sig.Direction = "ES", domain.DirectionLong
			if err := h.exec.Accept(ctx, sig); err != nil {
				t.Fatalf("Accept() = %v", err)
			}
			recs := h.eng.Registry().Records()
			rec := recs[len(recs)-1]
			if rec.SignalRef != tt.wantRef || rec.EntryBar != tt.wantBar {
				t.Errorf("SignalRef, EntryBar = %q, %d; want %q, %d", rec.SignalRef, rec.EntryBar, tt.wantRef, tt.wantBar)
			}
		})
	}
}

func TestPromotionSubmitsExitOnce(t *testing.T) {
	h := newHarness(t, false)
	rec := h.openPosition(t)
	h.router.price = 99

	h.decideExit(t, rec, domain.ReasonStopLoss, domain.CodeLongStop)
	h.eng.Promotions().Push(rec) // duplicate hand-off
	h.exec.Tick(context.Background())

	if !rec.Exited() {
		t.Fatalf("record not exited")
	}
	if n := h.router.count(domain.PurposeExit); n != 1 {
		t.Fatalf("exit submissions = %d, want 1", n)
	}
	if _, ok := h.eng.Registry().Entry(rec.EntryID); ok {
		t.Errorf("monitor entry still registered after exit fill")
	}
	ev := h.sink.last()
	if ev.Type != domain.EventExitFilled || ev.Code != domain.CodeLongStop {
		t.Errorf("last event = %+v, want exit_filled long_stop", ev)
	}
	// (99 - 101) * 1 * 50
	if ev.Profit != -100 {
		t.Errorf("realized = %v, want -100", ev.Profit)
	}

	// Draining the same hand-offs again changes nothing.
	h.eng.Promotions().Push(rec)
	h.eng.Deletions().Push(domain.NewMonitorEntry(rec, 0, 50))
	before := h.eng.Registry().Counts()
	h.exec.Tick(context.Background())
	if n := h.router.count(domain.PurposeExit); n != 1 {
		t.Errorf("exit submissions after replay = %d, want 1", n)
	}
	if after := h.eng.Registry().Counts(); after != before {
		t.Errorf("counts changed on replay: %+v -> %+v", before, after)
	}
}

func TestExitFailureReArms(t *testing.T) {
	h := newHarness(t, false)
	rec := h.openPosition(t)
	h.decideExit(t, rec, domain.ReasonTakeProfit, domain.CodeTakeProfit)

	h.router.err = errors.New("rejected")
	h.exec.Tick(context.Background())

	entry, ok := h.eng.Registry().Entry(rec.EntryID)
	if !ok {
		t.Fatalf("entry removed after failed submission")
	}
	if !entry.Eligible() {
		t.Fatalf("entry not re-armed after failed submission")
	}
	if rec.Exited() || rec.ExitPending() {
		t.Fatalf("record should still be open")
	}
	if got := h.sink.last().Type; got != domain.EventExitRejected {
		t.Errorf("last event = %s, want exit_rejected", got)
	}

	// Next decision (force flag still set) goes through.
	h.router.err = nil
	h.decideExit(t, rec, domain.ReasonStopLoss, domain.CodeLongStop)
	h.exec.Tick(context.Background())
	if !rec.Exited() {
		t.Fatalf("record not exited on retry")
	}
	if got := rec.ExitReason(); got != domain.ReasonTakeProfit {
		t.Errorf("reason = %v, want first reason take_profit", got)
	}
}

func TestPendingExitConfirmedThroughRun(t *testing.T) {
	h := newHarness(t, false)
	rec := h.openPosition(t)
	h.router.pending = true
	h.decideExit(t, rec, domain.ReasonManual, domain.CodeManual)
	h.exec.Tick(context.Background())

	if !rec.ExitPending() || rec.Exited() {
		t.Fatalf("want pending exit, got pending=%v exited=%v", rec.ExitPending(), rec.Exited())
	}
	if _, ok := h.eng.Registry().Entry(rec.EntryID); ok {
		t.Fatalf("entry with working exit should be removed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.exec.Run(ctx) }()

	cctx, ccancel := context.WithTimeout(context.Background(), time.Second)
	defer ccancel()
	if err := h.exec.ConfirmFill(cctx, rec.ExitID, domain.Fill{OrderID: "o", Price: 102}); err != nil {
		t.Fatalf("ConfirmFill() = %v", err)
	}
	err := h.exec.ConfirmFill(cctx, rec.ExitID, domain.Fill{OrderID: "o2", Price: 103})
	if !errors.Is(err, domain.ErrAlreadyExited) {
		t.Fatalf("second ConfirmFill() = %v, want ErrAlreadyExited", err)
	}
	if err := h.exec.ConfirmFill(cctx, "nope", domain.Fill{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ConfirmFill(unknown) = %v, want ErrNotFound", err)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if h := rec.ExitOrder(); h == nil || h.Price != 102 {
		t.Fatalf("exit handle = %+v, want first confirmation", h)
	}
}

func TestPruneClosedRunsOnExecutorGoroutine(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	closed := h.openPosition(t)
	h.decideExit(t, closed, domain.ReasonTakeProfit, domain.CodeTakeProfit)
	h.exec.Tick(ctx)
	if !closed.Exited() {
		t.Fatal("record not exited")
	}
	if err := h.exec.Accept(ctx, domain.EntrySignal{ID: "open", Instrument: "ES", Direction: domain.DirectionLong}); err != nil {
		t.Fatal(err)
	}
	h.exec.Tick(ctx)
	recs := h.eng.Registry().Records()
	open := recs[len(recs)-1]

	// Park the executor goroutine inside an entry submission.
	h.router.entered = make(chan struct{}, 1)
	h.router.release = make(chan struct{})
	if err := h.exec.Accept(ctx, domain.EntrySignal{ID: "busy", Instrument: "ES", Direction: domain.DirectionLong}); err != nil {
		t.Fatal(err)
	}
	rctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.exec.Run(rctx) }()
	<-h.router.entered

	type result struct {
		pruned []*domain.PositionRecord
		err    error
	}
	got := make(chan result, 1)
	go func() {
		pctx, pcancel := context.WithTimeout(ctx, 2*time.Second)
		defer pcancel()
		pruned, err := h.exec.PruneClosed(pctx, "s1")
		got <- result{pruned, err}
	}()

	select {
	case <-got:
		t.Fatal("PruneClosed() returned while the executor was busy")
	case <-time.After(50 * time.Millisecond):
	}
	close(h.router.release)

	r := <-got
	if r.err != nil {
		t.Fatalf("PruneClosed() = %v", r.err)
	}
	if len(r.pruned) != 1 || r.pruned[0] != closed {
		t.Fatalf("PruneClosed() = %v, want only the exited record", r.pruned)
	}
	if _, ok := h.eng.Registry().Record(open.EntryID); !ok {
		t.Errorf("open record pruned")
	}
	cancel()
	<-done

	// After Run returns the prune happens in place.
	if _, err := h.exec.PruneClosed(ctx, "s1"); err != nil {
		t.Fatalf("PruneClosed() after Run = %v", err)
	}
}

func TestMonitorOnlyNeverRoutes(t *testing.T) {
	h := newHarness(t, true)
	rec := h.openPosition(t)
	if rec.FillPrice() != 100 {
		t.Errorf("FillPrice() = %v, want signal price 100", rec.FillPrice())
	}
	h.decideExit(t, rec, domain.ReasonPullback, domain.CodeSoftPullback)
	h.exec.Tick(context.Background())

	if len(h.router.requests) != 0 {
		t.Fatalf("router called %d times in monitor mode", len(h.router.requests))
	}
	if !rec.ExitPending() {
		t.Errorf("exit should be pending manual execution")
	}
}

func TestRestore(t *testing.T) {
	h := newHarness(t, false)
	open := domain.PositionView{
		EntryID: "e1", ExitID: "x1", Instrument: "ES", Direction: domain.DirectionLong, Quantity: 1,
		EntryPrice: 100, EntryOrder: &domain.OrderHandle{OrderID: "o1", Price: 100},
		Stats: domain.PositionStats{Initialized: true, Bar: 42, AllTimeHigh: 5},
	}
	closed := open
	closed.EntryID, closed.ExitID = "e2", "x2"
	closed.ExitOrder = &domain.OrderHandle{OrderID: "o2"}
	unknown := open
	unknown.EntryID, unknown.ExitID, unknown.Instrument = "e3", "x3", "CL"

	if n := h.exec.Restore(context.Background(), []domain.PositionView{open, closed, unknown}); n != 1 {
		t.Fatalf("Restore() = %d, want 1", n)
	}
	entry, ok := h.eng.Registry().Entry("e1")
	if !ok || !entry.Eligible() {
		t.Fatalf("restored entry not armed")
	}
	if entry.Record.Stats().AllTimeHigh != 5 {
		t.Errorf("stats not restored")
	}
	if h.eng.Bar() != 42 {
		t.Errorf("bar = %d, want 42", h.eng.Bar())
	}
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	if d.IsDuplicate("a") {
		t.Fatal("first sighting reported duplicate")
	}
	if !d.IsDuplicate("a") {
		t.Fatal("second sighting not reported duplicate")
	}
	d.Forget("a")
	if d.IsDuplicate("a") {
		t.Fatal("forgotten id reported duplicate")
	}
	now = now.Add(2 * time.Minute)
	if d.IsDuplicate("a") {
		t.Fatal("expired id reported duplicate")
	}
	now = now.Add(2 * time.Minute)
	d.Cleanup()
	if d.Len() != 0 {
		t.Fatalf("Len() after cleanup = %d, want 0", d.Len())
	}
}

func TestPaperRouter(t *testing.T) {
	quotes := staticQuotes{"ES": {Instrument: "ES", Bid: 99.75, Ask: 100}}
	p := NewPaperRouter(quotes)
	ctx := context.Background()

	buy, err := p.Submit(ctx, domain.OrderRequest{ClientID: "c1", Instrument: "ES", Side: domain.OrderSideBuy, Quantity: 1})
	if err != nil || buy.Price != 100 || buy.OrderID == "" {
		t.Fatalf("buy = %+v, %v; want fill at ask", buy, err)
	}
	sell, err := p.Submit(ctx, domain.OrderRequest{ClientID: "c2", Instrument: "ES", Side: domain.OrderSideSell, Quantity: 1})
	if err != nil || sell.Price != 99.75 {
		t.Fatalf("sell = %+v, %v; want fill at bid", sell, err)
	}
	if _, err := p.Submit(ctx, domain.OrderRequest{ClientID: "c3", Instrument: "NQ", Side: domain.OrderSideBuy, Quantity: 1}); !errors.Is(err, domain.ErrNoQuote) {
		t.Fatalf("Submit(no quote) = %v, want ErrNoQuote", err)
	}
}
