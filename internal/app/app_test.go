package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/config"
	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/engine"
	"github.com/alanyoungcy/exitwatch/internal/executor"
	"github.com/alanyoungcy/exitwatch/internal/exit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePruner struct {
	mu     sync.Mutex
	pruned []string
}

func (p *fakePruner) PruneClosed(_ context.Context, sessionID string) ([]*domain.PositionRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruned = append(p.pruned, sessionID)
	return nil, nil
}

type fakeArchiver struct {
	mu       sync.Mutex
	sessions []string
	days     []time.Time
	n        int64
	err      error
}

func (a *fakeArchiver) ArchiveSession(_ context.Context, sessionID string, day time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, sessionID)
	a.days = append(a.days, day)
	return a.n, a.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Emit(_ context.Context, ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func newTestSessions(pruner closedPruner, archiver *fakeArchiver, sink *recordingSink) *SessionManager {
	var arch domain.SessionArchiver
	if archiver != nil {
		arch = archiver
	}
	var events executor.EventSink
	if sink != nil {
		events = sink
	}
	s := NewSessionManager(pruner, arch, events, testLogger())
	s.newID = sequentialIDs("s")
	s.now = func() time.Time { return time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC) }
	s.current = s.newID()
	return s
}

func TestSessionManagerRoll(t *testing.T) {
	pruner := &fakePruner{}
	archiver := &fakeArchiver{n: 3}
	sink := &recordingSink{}
	s := newTestSessions(pruner, archiver, sink)

	if got := s.Current(); got != "s1" {
		t.Fatalf("Current() = %q, want s1", got)
	}

	prev, err := s.Roll(context.Background())
	if err != nil {
		t.Fatalf("Roll() error = %v", err)
	}
	if prev != "s1" {
		t.Errorf("Roll() previous = %q, want s1", prev)
	}
	if got := s.Current(); got != "s2" {
		t.Errorf("Current() after roll = %q, want s2", got)
	}
	if len(pruner.pruned) != 1 || pruner.pruned[0] != "s1" {
		t.Errorf("pruned sessions = %v, want [s1]", pruner.pruned)
	}
	if len(archiver.sessions) != 1 || archiver.sessions[0] != "s1" {
		t.Errorf("archived sessions = %v, want [s1]", archiver.sessions)
	}
	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Type != domain.EventSessionRolled {
		t.Errorf("event type = %s, want %s", ev.Type, domain.EventSessionRolled)
	}
	if ev.SessionID != "s2" {
		t.Errorf("event session = %q, want s2", ev.SessionID)
	}
	if !strings.Contains(ev.Detail, "previous=s1") || !strings.Contains(ev.Detail, "archived=3") {
		t.Errorf("event detail = %q", ev.Detail)
	}
}

func TestSessionManagerRollArchiveFailure(t *testing.T) {
	archiver := &fakeArchiver{err: errors.New("bucket unavailable")}
	sink := &recordingSink{}
	s := newTestSessions(&fakePruner{}, archiver, sink)

	_, err := s.Roll(context.Background())
	if err == nil {
		t.Fatal("Roll() expected archive error")
	}
	// The new session is active even when the old one failed to archive.
	if got := s.Current(); got != "s2" {
		t.Errorf("Current() = %q, want s2", got)
	}
	if len(sink.events) != 1 || !strings.Contains(sink.events[0].Detail, "bucket unavailable") {
		t.Errorf("events = %+v", sink.events)
	}
}

func TestSessionManagerWithoutArchiver(t *testing.T) {
	pruner := &fakePruner{}
	s := newTestSessions(pruner, nil, nil)

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(pruner.pruned) != 1 || pruner.pruned[0] != "s1" {
		t.Errorf("pruned sessions = %v, want [s1]", pruner.pruned)
	}
	if got := s.Current(); got != "s1" {
		t.Errorf("Close() must keep the session id, got %q", got)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionRollPrunesThroughExecutor(t *testing.T) {
	eng := engine.New(engine.Config{}, exit.Rules{StopLoss: 50, TakeProfit: 100}, engine.Lookups{}, nil, testLogger())
	s := newTestSessions(nil, nil, nil)
	signals := make(chan domain.EntrySignal, 1)
	exec := executor.NewExecutor(executor.Config{
		BarInterval: 5 * time.Millisecond,
		MonitorOnly: true,
		Instruments: map[string]executor.Instrument{"ES": {PointValue: 50, DefaultQuantity: 1}},
	}, eng, nil, signals, s, nil, nil, nil, testLogger())
	s.pruner = exec

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- exec.Run(ctx) }()

	signals <- domain.EntrySignal{ID: "a", Instrument: "ES", Direction: domain.DirectionLong, Price: 100}
	waitFor(t, "entry fill", func() bool {
		recs := eng.Registry().Records()
		return len(recs) == 1 && recs[0].Open()
	})
	rec := eng.Registry().Records()[0]
	entry, _ := eng.Registry().Entry(rec.EntryID)
	rec.MarkExit(domain.ReasonManual, domain.CodeManual)
	entry.Disarm()
	eng.Promotions().Push(rec)
	eng.Deletions().Push(entry)
	waitFor(t, "pending exit", rec.ExitPending)

	if err := exec.ConfirmFill(ctx, rec.ExitID, domain.Fill{OrderID: "x", Price: 101}); err != nil {
		t.Fatalf("ConfirmFill() = %v", err)
	}
	if _, err := s.Roll(ctx); err != nil {
		t.Fatalf("Roll() = %v", err)
	}
	if c := eng.Registry().Counts(); c.Records != 0 {
		t.Errorf("records after roll = %d, want 0", c.Records)
	}
	cancel()
	<-done
}

func TestSessionManagerRunEmptySpec(t *testing.T) {
	s := newTestSessions(&fakePruner{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "") }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestSessionManagerRunInvalidSpec(t *testing.T) {
	s := newTestSessions(&fakePruner{}, nil, nil)
	if err := s.Run(context.Background(), "not a cron"); err == nil {
		t.Fatal("Run() expected error for invalid spec")
	}
}

type fakeAudit struct {
	mu      sync.Mutex
	events  []string
	details []map[string]any
	err     error
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	a.details = append(a.details, detail)
	return a.err
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeNotifier struct {
	events []domain.Event
}

func (n *fakeNotifier) NotifyEvent(_ context.Context, ev domain.Event) error {
	n.events = append(n.events, ev)
	return nil
}

type fakeCounter struct {
	counts map[domain.EventType]int
}

func (c *fakeCounter) Event(t domain.EventType) {
	if c.counts == nil {
		c.counts = make(map[domain.EventType]int)
	}
	c.counts[t]++
}

func TestEventFanoutEmit(t *testing.T) {
	audit := &fakeAudit{}
	bus := &fakeBus{}
	notifier := &fakeNotifier{}
	counter := &fakeCounter{}
	f := NewEventFanout(audit, bus, notifier, counter, testLogger())

	ev := domain.Event{
		Type:       domain.EventExitFilled,
		SessionID:  "s1",
		EntryID:    "e1",
		ExitID:     "x1",
		Instrument: "ES",
		Direction:  domain.DirectionLong,
		Reason:     "take_profit",
		Code:       domain.CodeTakeProfit,
		Price:      5012.25,
		Profit:     162.5,
	}
	f.Emit(context.Background(), ev)

	if len(audit.events) != 1 || audit.events[0] != "exit_filled" {
		t.Fatalf("audit events = %v", audit.events)
	}
	d := audit.details[0]
	if d["entry_id"] != "e1" || d["code"] != domain.CodeTakeProfit || d["profit"] != 162.5 {
		t.Errorf("audit detail = %v", d)
	}
	if _, ok := d["detail"]; ok {
		t.Error("empty fields must be omitted from the audit detail")
	}

	msgs := bus.published[domain.EventsChannel]
	if len(msgs) != 1 {
		t.Fatalf("published = %d, want 1", len(msgs))
	}
	var got domain.Event
	if err := json.Unmarshal(msgs[0], &got); err != nil {
		t.Fatalf("unmarshal published event: %v", err)
	}
	if got.EntryID != "e1" || got.At.IsZero() {
		t.Errorf("published event = %+v", got)
	}

	if len(notifier.events) != 1 {
		t.Errorf("notified = %d, want 1", len(notifier.events))
	}
	if counter.counts[domain.EventExitFilled] != 1 {
		t.Errorf("counted = %v", counter.counts)
	}
}

func TestEventFanoutAuditFailureDoesNotStopDelivery(t *testing.T) {
	audit := &fakeAudit{err: errors.New("db down")}
	bus := &fakeBus{}
	f := NewEventFanout(audit, bus, nil, nil, testLogger())

	f.Emit(context.Background(), domain.Event{Type: domain.EventEngineFault, Detail: "stop timeout"})

	if len(bus.published[domain.EventsChannel]) != 1 {
		t.Errorf("event must still be published after an audit failure")
	}
}

func TestEventFanoutCancelledContext(t *testing.T) {
	audit := &fakeAudit{}
	f := NewEventFanout(audit, nil, nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Emit(ctx, domain.Event{Type: domain.EventExitRejected})

	if len(audit.events) != 1 {
		t.Errorf("audit events = %d, want 1", len(audit.events))
	}
}

func TestExecutorConfigFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Instruments = []config.InstrumentConfig{
		{Symbol: "ES", SeriesIndex: 0, PointValue: 50, DefaultQuantity: 1},
		{Symbol: "NQ", SeriesIndex: 1, PointValue: 20, DefaultQuantity: 2},
	}

	ec := executorConfig(&cfg, true)
	if !ec.MonitorOnly {
		t.Error("MonitorOnly = false, want true")
	}
	if len(ec.Instruments) != 2 {
		t.Fatalf("instruments = %d, want 2", len(ec.Instruments))
	}
	if nq := ec.Instruments["NQ"]; nq.SeriesIndex != 1 || nq.PointValue != 20 || nq.DefaultQuantity != 2 {
		t.Errorf("NQ = %+v", nq)
	}
	if ec.DefaultStopLoss != cfg.Exit.StopLoss || ec.DefaultTakeProfit != cfg.Exit.TakeProfit {
		t.Errorf("defaults = %v/%v", ec.DefaultStopLoss, ec.DefaultTakeProfit)
	}

	rules := rulesFromConfig(cfg.Exit)
	if rules.AgeExitBars != cfg.Exit.AgeExitBars || rules.EnableAgeExit != cfg.Exit.EnableAgeExit {
		t.Errorf("rules = %+v", rules)
	}
}
