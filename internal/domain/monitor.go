package domain

import "sync/atomic"

// MonitorEntry is the lightweight handle the scheduler uses to find and judge
// one open position. It does not own the record.
type MonitorEntry struct {
	Record      *PositionRecord
	SeriesIndex int
	PointValue  float64
	Direction   Direction
	Quantity    float64

	eligible atomic.Bool
}

// NewMonitorEntry creates an entry for rec. Monitoring starts disarmed until
// the entry fill is confirmed.
func NewMonitorEntry(rec *PositionRecord, seriesIndex int, pointValue float64) *MonitorEntry {
	if pointValue <= 0 {
		pointValue = 1
	}
	return &MonitorEntry{
		Record:      rec,
		SeriesIndex: seriesIndex,
		PointValue:  pointValue,
		Direction:   rec.Direction,
		Quantity:    rec.Quantity,
	}
}

// ID returns the entry identifier of the underlying record.
func (m *MonitorEntry) ID() string {
	return m.Record.EntryID
}

// Eligible reports whether automatic exit monitoring is active.
func (m *MonitorEntry) Eligible() bool {
	return m.eligible.Load()
}

// Arm enables monitoring. It refuses when the record is not open, keeping the
// invariant that an eligible entry always resolves to an open record.
func (m *MonitorEntry) Arm() error {
	if !m.Record.Open() {
		return ErrNotEligible
	}
	m.eligible.Store(true)
	return nil
}

// Disarm stops monitoring and reports whether this call changed the flag.
func (m *MonitorEntry) Disarm() bool {
	return m.eligible.CompareAndSwap(true, false)
}

// EntryIntent is an entry order that has been decided but not yet submitted.
type EntryIntent struct {
	Record    *PositionRecord
	Quantity  float64
	Direction Direction

	ready atomic.Bool
}

// NewEntryIntent creates a ready intent for rec.
func NewEntryIntent(rec *PositionRecord) *EntryIntent {
	in := &EntryIntent{
		Record:    rec,
		Quantity:  rec.Quantity,
		Direction: rec.Direction,
	}
	in.ready.Store(true)
	return in
}

// Ready reports whether the intent still awaits submission.
func (e *EntryIntent) Ready() bool {
	return e.ready.Load()
}

// Consume flips readiness off. Only the first caller gets true.
func (e *EntryIntent) Consume() bool {
	return e.ready.CompareAndSwap(true, false)
}
