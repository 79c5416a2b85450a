package domain

import (
	"sync"
	"time"
)

// Direction is the side of an open position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short positions.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// OrderHandle identifies a confirmed fill at the execution venue.
type OrderHandle struct {
	OrderID  string    `json:"order_id"`
	Price    float64   `json:"price"`
	FilledAt time.Time `json:"filled_at"`
}

// PositionStats are the live statistics of an open position. They are written
// only by the background scheduler.
type PositionStats struct {
	Initialized      bool      `json:"initialized"`
	Bar              int64     `json:"bar"`
	LastPrice        float64   `json:"last_price"`
	UnrealizedProfit float64   `json:"unrealized_profit"`
	AllTimeHigh      float64   `json:"all_time_high"`
	AllTimeLow       float64   `json:"all_time_low"`
	PullbackPrice    float64   `json:"pullback_price"`
	DivergenceScore  float64   `json:"divergence_score"`
	MaxDivergence    float64   `json:"max_divergence"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PullbackActive reports whether profit ever crossed the soft target.
func (s PositionStats) PullbackActive() bool {
	return s.PullbackPrice != 0
}

// PositionRecord is the authoritative data object for one trade. Identity and
// entry context are immutable after construction; the remaining groups each
// have a single writer (statistics: scheduler, order handles: executor) and
// are guarded by mu so readers always see a consistent copy.
type PositionRecord struct {
	EntryID    string
	ExitID     string
	SessionID  string
	Instrument string
	PatternID  string
	SignalRef  string
	EntryBar   int64
	EntryTime  time.Time
	EntryPrice float64
	Direction  Direction
	Quantity   float64
	StopLoss   float64
	TakeProfit float64

	mu          sync.RWMutex
	fillPrice   float64
	stats       PositionStats
	forceExit   bool
	exitReason  ExitReason
	exitCode    string
	exitPending bool
	rejected    bool
	entryOrder  *OrderHandle
	exitOrder   *OrderHandle
}

// Stats returns a copy of the live statistics.
func (p *PositionRecord) Stats() PositionStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// UpdateStats applies fn to the statistics under the record lock.
func (p *PositionRecord) UpdateStats(fn func(*PositionStats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

// FillPrice returns the confirmed entry price, or the intended entry price
// while the entry is unfilled.
func (p *PositionRecord) FillPrice() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.entryOrder != nil && p.fillPrice > 0 {
		return p.fillPrice
	}
	return p.EntryPrice
}

// EntryOrder returns a copy of the entry handle, or nil before the fill.
func (p *PositionRecord) EntryOrder() *OrderHandle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.entryOrder == nil {
		return nil
	}
	h := *p.entryOrder
	return &h
}

// ExitOrder returns a copy of the exit handle, or nil while open.
func (p *PositionRecord) ExitOrder() *OrderHandle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.exitOrder == nil {
		return nil
	}
	h := *p.exitOrder
	return &h
}

// SetEntryFilled records the entry fill. It may only happen once.
func (p *PositionRecord) SetEntryFilled(h OrderHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entryOrder != nil {
		return ErrAlreadyExists
	}
	if p.rejected {
		return ErrNotEligible
	}
	p.entryOrder = &h
	if h.Price > 0 {
		p.fillPrice = h.Price
	}
	return nil
}

// SetExitFilled records the exit fill. The exit handle is terminal: a second
// call returns ErrAlreadyExited and leaves the first handle in place.
func (p *PositionRecord) SetExitFilled(h OrderHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitOrder != nil {
		return ErrAlreadyExited
	}
	p.exitOrder = &h
	p.exitPending = false
	return nil
}

// Reject marks an unfilled entry as refused by the venue. A rejected record
// never accepts an entry fill. It returns false if the entry already filled.
func (p *PositionRecord) Reject() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entryOrder != nil {
		return false
	}
	p.rejected = true
	return true
}

// Rejected reports whether the entry was refused.
func (p *PositionRecord) Rejected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rejected
}

// Exited reports whether the exit handle has been assigned.
func (p *PositionRecord) Exited() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitOrder != nil
}

// Open reports whether the entry is filled and the exit is not.
func (p *PositionRecord) Open() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entryOrder != nil && p.exitOrder == nil
}

// MarkExit sets the force-exit flag together with the exit reason. The first
// reason wins; later calls return false and change nothing.
func (p *PositionRecord) MarkExit(reason ExitReason, code string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.forceExit || p.exitReason != ReasonNone {
		return false
	}
	p.forceExit = true
	p.exitReason = reason
	p.exitCode = code
	return true
}

// ForceExit returns the force-exit flag and the reason recorded with it.
func (p *PositionRecord) ForceExit() (bool, ExitReason, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.forceExit, p.exitReason, p.exitCode
}

// ExitReason returns the recorded exit reason.
func (p *PositionRecord) ExitReason() ExitReason {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitReason
}

// SetExitPending marks an exit order as submitted but not yet filled.
func (p *PositionRecord) SetExitPending(pending bool) {
	p.mu.Lock()
	p.exitPending = pending
	p.mu.Unlock()
}

// ExitPending reports whether an exit order is working at the venue.
func (p *PositionRecord) ExitPending() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitPending
}

// View returns a serialisable snapshot of the record.
func (p *PositionRecord) View() PositionView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v := PositionView{
		EntryID:     p.EntryID,
		ExitID:      p.ExitID,
		SessionID:   p.SessionID,
		Instrument:  p.Instrument,
		PatternID:   p.PatternID,
		SignalRef:   p.SignalRef,
		EntryBar:    p.EntryBar,
		EntryTime:   p.EntryTime,
		EntryPrice:  p.EntryPrice,
		Direction:   p.Direction,
		Quantity:    p.Quantity,
		StopLoss:    p.StopLoss,
		TakeProfit:  p.TakeProfit,
		Stats:       p.stats,
		ForceExit:   p.forceExit,
		ExitReason:  p.exitReason,
		ExitCode:    p.exitCode,
		ExitPending: p.exitPending,
		Rejected:    p.rejected,
	}
	if p.entryOrder != nil {
		h := *p.entryOrder
		v.EntryOrder = &h
		if p.fillPrice > 0 {
			v.EntryPrice = p.fillPrice
		}
	}
	if p.exitOrder != nil {
		h := *p.exitOrder
		v.ExitOrder = &h
	}
	return v
}

// PositionView is an immutable copy of a PositionRecord used by the journal,
// the HTTP API and the session archive.
type PositionView struct {
	EntryID     string        `json:"entry_id"`
	ExitID      string        `json:"exit_id"`
	SessionID   string        `json:"session_id"`
	Instrument  string        `json:"instrument"`
	PatternID   string        `json:"pattern_id,omitempty"`
	SignalRef   string        `json:"signal_ref,omitempty"`
	EntryBar    int64         `json:"entry_bar"`
	EntryTime   time.Time     `json:"entry_time"`
	EntryPrice  float64       `json:"entry_price"`
	Direction   Direction     `json:"direction"`
	Quantity    float64       `json:"quantity"`
	StopLoss    float64       `json:"stop_loss"`
	TakeProfit  float64       `json:"take_profit"`
	Stats       PositionStats `json:"stats"`
	ForceExit   bool          `json:"force_exit"`
	ExitReason  ExitReason    `json:"exit_reason"`
	ExitCode    string        `json:"exit_code,omitempty"`
	ExitPending bool          `json:"exit_pending"`
	Rejected    bool          `json:"rejected,omitempty"`
	EntryOrder  *OrderHandle  `json:"entry_order,omitempty"`
	ExitOrder   *OrderHandle  `json:"exit_order,omitempty"`
}

// Status returns a coarse lifecycle label for the view.
func (v PositionView) Status() string {
	switch {
	case v.ExitOrder != nil:
		return "closed"
	case v.Rejected:
		return "rejected"
	case v.EntryOrder == nil:
		return "pending"
	case v.ExitPending || v.ForceExit:
		return "exiting"
	default:
		return "open"
	}
}

// RestoreRecord rebuilds a record from a journal snapshot so an open position
// can be monitored again after a restart.
func RestoreRecord(v PositionView) *PositionRecord {
	rec := &PositionRecord{
		EntryID:     v.EntryID,
		ExitID:      v.ExitID,
		SessionID:   v.SessionID,
		Instrument:  v.Instrument,
		PatternID:   v.PatternID,
		SignalRef:   v.SignalRef,
		EntryBar:    v.EntryBar,
		EntryTime:   v.EntryTime,
		EntryPrice:  v.EntryPrice,
		Direction:   v.Direction,
		Quantity:    v.Quantity,
		StopLoss:    v.StopLoss,
		TakeProfit:  v.TakeProfit,
		stats:       v.Stats,
		forceExit:   v.ForceExit,
		exitReason:  v.ExitReason,
		exitCode:    v.ExitCode,
		exitPending: v.ExitPending,
		rejected:    v.Rejected,
	}
	if v.EntryOrder != nil {
		h := *v.EntryOrder
		rec.entryOrder = &h
		rec.fillPrice = h.Price
	}
	if v.ExitOrder != nil {
		h := *v.ExitOrder
		rec.exitOrder = &h
	}
	return rec
}
