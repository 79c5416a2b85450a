package engine

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

func newPosition(t *testing.T, id string, filled bool) (*domain.PositionRecord, *domain.MonitorEntry) {
	t.Helper()
	rec := &domain.PositionRecord{
		EntryID:    id,
		ExitID:     id + "-x",
		SessionID:  "s1",
		Instrument: "ES",
		EntryPrice: 100,
		Direction:  domain.DirectionLong,
		Quantity:   1,
	}
	entry := domain.NewMonitorEntry(rec, 0, 1)
	if filled {
		if err := rec.SetEntryFilled(domain.OrderHandle{OrderID: "o-" + id, Price: 100}); err != nil {
			t.Fatal(err)
		}
		if err := entry.Arm(); err != nil {
			t.Fatal(err)
		}
	}
	return rec, entry
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	rec, entry := newPosition(t, "a", true)
	if err := reg.Register(rec, entry, nil); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	if err := reg.Register(rec, entry, nil); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second Register() = %v, want ErrAlreadyExists", err)
	}
	other, _ := newPosition(t, "b", true)
	if err := reg.Register(other, entry, nil); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("Register() with mismatched entry = %v, want ErrNotEligible", err)
	}
}

func TestRegistrySnapshotOrderAndEligibility(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		rec, entry := newPosition(t, id, id != "b")
		in := domain.NewEntryIntent(rec)
		if err := reg.Register(rec, entry, in); err != nil {
			t.Fatal(err)
		}
	}
	snap := reg.EligibleSnapshot()
	if len(snap) != 2 || snap[0].ID() != "a" || snap[1].ID() != "c" {
		t.Fatalf("EligibleSnapshot() ids = %v, want [a c]", ids(snap))
	}
	if got := reg.Counts(); got != (Counts{Entries: 3, Eligible: 2, Intents: 3, Records: 3}) {
		t.Errorf("Counts() = %+v", got)
	}
	if n := len(reg.ReadyIntents()); n != 3 {
		t.Errorf("ReadyIntents() = %d, want 3", n)
	}
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	var entries []*domain.MonitorEntry
	for _, id := range []string{"a", "b", "c"} {
		rec, entry := newPosition(t, id, true)
		if err := reg.Register(rec, entry, domain.NewEntryIntent(rec)); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, entry)
	}

	drain := func(items []*domain.MonitorEntry) {
		for _, e := range items {
			reg.RemoveEntry(e.ID())
			reg.RemoveIntent(e.ID())
		}
	}
	drain([]*domain.MonitorEntry{entries[1]})
	once := ids(reg.Entries())
	onceCounts := reg.Counts()

	drain([]*domain.MonitorEntry{entries[1]})
	if got := ids(reg.Entries()); fmt.Sprint(got) != fmt.Sprint(once) {
		t.Fatalf("entries after second drain = %v, want %v", got, once)
	}
	if got := reg.Counts(); got != onceCounts {
		t.Fatalf("counts after second drain = %+v, want %+v", got, onceCounts)
	}
	if fmt.Sprint(once) != "[a c]" {
		t.Errorf("entries = %v, want [a c]", once)
	}
	if _, ok := reg.Record("b"); !ok {
		t.Errorf("record history must outlive the monitor entry")
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 10; i++ {
		rec, entry := newPosition(t, fmt.Sprintf("p%d", i), true)
		if err := reg.Register(rec, entry, nil); err != nil {
			t.Fatal(err)
		}
	}
	snap := reg.EligibleSnapshot()
	before := ids(snap)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 10; i < 200; i++ {
			rec := &domain.PositionRecord{EntryID: fmt.Sprintf("p%d", i), Direction: domain.DirectionLong, Quantity: 1}
			_ = reg.Register(rec, domain.NewMonitorEntry(rec, 0, 1), nil)
			if i%3 == 0 {
				reg.RemoveEntry(fmt.Sprintf("p%d", i-10))
			}
		}
	}()
	go func() {
		defer wg.Done()
		for _, e := range snap {
			_ = e.Record.Stats()
		}
	}()
	wg.Wait()

	if after := ids(snap); fmt.Sprint(after) != fmt.Sprint(before) {
		t.Fatalf("snapshot changed under concurrent registration: %v -> %v", before, after)
	}
}

func TestRegistryPruneClosed(t *testing.T) {
	reg := NewRegistry()
	open, openEntry := newPosition(t, "open", true)
	closed, closedEntry := newPosition(t, "closed", true)
	rejected, rejectedEntry := newPosition(t, "rejected", false)
	for _, p := range []struct {
		r *domain.PositionRecord
		e *domain.MonitorEntry
	}{{open, openEntry}, {closed, closedEntry}, {rejected, rejectedEntry}} {
		if err := reg.Register(p.r, p.e, nil); err != nil {
			t.Fatal(err)
		}
	}
	closedEntry.Disarm()
	if err := closed.SetExitFilled(domain.OrderHandle{OrderID: "x"}); err != nil {
		t.Fatal(err)
	}

	if got := reg.PruneClosed("s1"); len(got) != 0 {
		t.Fatalf("PruneClosed() pruned %d records still monitored", len(got))
	}
	if !rejected.Reject() {
		t.Fatal("Reject() = false for unfilled entry")
	}
	reg.RemoveEntry("closed")
	reg.RemoveEntry("rejected")
	got := reg.PruneClosed("s1")
	if len(got) != 2 || got[0].EntryID != "closed" || got[1].EntryID != "rejected" {
		t.Fatalf("PruneClosed() returned %d records, want [closed rejected]", len(got))
	}
	if _, ok := reg.Record("open"); !ok {
		t.Errorf("open record pruned")
	}
}

func TestQueueDrain(t *testing.T) {
	q := NewQueue[int]()
	if got := q.Drain(); got != nil {
		t.Fatalf("Drain() on empty = %v, want nil", got)
	}
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(p*100 + i)
			}
		}(p)
	}
	wg.Wait()
	if q.Len() != 400 {
		t.Fatalf("Len() = %d, want 400", q.Len())
	}
	items := q.Drain()
	if len(items) != 400 || q.Len() != 0 {
		t.Fatalf("Drain() = %d items, remaining %d", len(items), q.Len())
	}
}

func ids(entries []*domain.MonitorEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID()
	}
	return out
}
