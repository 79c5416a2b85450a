package engine

import (
	"sync"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// Counts summarises registry membership.
type Counts struct {
	Entries  int `json:"entries"`
	Eligible int `json:"eligible"`
	Intents  int `json:"intents"`
	Records  int `json:"records"`
}

// Registry holds the monitor entries and entry intents the scheduler works on,
// plus the session's record history. Collections keep insertion order. Reads
// take a snapshot under the read lock; structural changes come only from the
// order-submission goroutine.
type Registry struct {
	mu sync.RWMutex

	entries   []*domain.MonitorEntry
	entryByID map[string]*domain.MonitorEntry

	intents    []*domain.EntryIntent
	intentByID map[string]*domain.EntryIntent

	records  []*domain.PositionRecord
	recordBy map[string]*domain.PositionRecord
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entryByID:  make(map[string]*domain.MonitorEntry),
		intentByID: make(map[string]*domain.EntryIntent),
		recordBy:   make(map[string]*domain.PositionRecord),
	}
}

// Register inserts a record with its monitor entry and, optionally, the entry
// intent that will open it.
func (r *Registry) Register(rec *domain.PositionRecord, entry *domain.MonitorEntry, intent *domain.EntryIntent) error {
	if rec == nil || entry == nil || entry.Record != rec {
		return domain.ErrNotEligible
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recordBy[rec.EntryID]; ok {
		return domain.ErrAlreadyExists
	}
	r.records = append(r.records, rec)
	r.recordBy[rec.EntryID] = rec
	r.entries = append(r.entries, entry)
	r.entryByID[rec.EntryID] = entry
	if intent != nil {
		r.intents = append(r.intents, intent)
		r.intentByID[rec.EntryID] = intent
	}
	return nil
}

// EligibleSnapshot copies the entries whose monitoring flag is set, in
// insertion order. The returned slice is owned by the caller.
func (r *Registry) EligibleSnapshot() []*domain.MonitorEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.MonitorEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Eligible() {
			out = append(out, e)
		}
	}
	return out
}

// Entries copies every monitor entry in insertion order.
func (r *Registry) Entries() []*domain.MonitorEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.MonitorEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ReadyIntents copies the intents still awaiting submission.
func (r *Registry) ReadyIntents() []*domain.EntryIntent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.EntryIntent, 0, len(r.intents))
	for _, in := range r.intents {
		if in.Ready() {
			out = append(out, in)
		}
	}
	return out
}

// Entry returns the monitor entry for entryID.
func (r *Registry) Entry(entryID string) (*domain.MonitorEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entryByID[entryID]
	return e, ok
}

// Record returns the record for entryID from the session history.
func (r *Registry) Record(entryID string) (*domain.PositionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recordBy[entryID]
	return rec, ok
}

// RecordByExitID finds a record by its exit identifier.
func (r *Registry) RecordByExitID(exitID string) (*domain.PositionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.ExitID == exitID {
			return rec, true
		}
	}
	return nil, false
}

// Records copies the record history in insertion order.
func (r *Registry) Records() []*domain.PositionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.PositionRecord, len(r.records))
	copy(out, r.records)
	return out
}

// RemoveEntry removes the monitor entry for entryID. Removing an absent entry
// is a no-op and returns false.
func (r *Registry) RemoveEntry(entryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entryByID[entryID]; !ok {
		return false
	}
	delete(r.entryByID, entryID)
	for i, e := range r.entries {
		if e.ID() == entryID {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			break
		}
	}
	return true
}

// RemoveIntent removes the entry intent for entryID. Removing an absent
// intent is a no-op and returns false.
func (r *Registry) RemoveIntent(entryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.intentByID[entryID]; !ok {
		return false
	}
	delete(r.intentByID, entryID)
	for i, in := range r.intents {
		if in.Record.EntryID == entryID {
			r.intents = append(r.intents[:i:i], r.intents[i+1:]...)
			break
		}
	}
	return true
}

// PruneClosed drops exited or rejected records of sessionID from the history
// and returns them. Open records stay.
func (r *Registry) PruneClosed(sessionID string) []*domain.PositionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pruned []*domain.PositionRecord
	kept := r.records[:0:0]
	for _, rec := range r.records {
		if rec.SessionID == sessionID && (rec.Exited() || rec.Rejected()) {
			if _, monitored := r.entryByID[rec.EntryID]; !monitored {
				pruned = append(pruned, rec)
				delete(r.recordBy, rec.EntryID)
				continue
			}
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return pruned
}

// Counts returns current membership sizes.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := Counts{Entries: len(r.entries), Intents: len(r.intents), Records: len(r.records)}
	for _, e := range r.entries {
		if e.Eligible() {
			c.Eligible++
		}
	}
	return c
}
