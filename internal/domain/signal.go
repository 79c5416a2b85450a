package domain

import "time"

// EntrySignal is the wire form of an entry decision made by an upstream
// pattern process. The intent feeder turns it into a PositionRecord plus an
// EntryIntent.
type EntrySignal struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	PatternID  string    `json:"pattern_id"`
	SignalRef  string    `json:"signal_ref,omitempty"`
	Direction  Direction `json:"direction"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Bar        int64     `json:"bar"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the signal is past its expiry at now.
func (s EntrySignal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// EntryIntentsStream is the Redis stream entry signals arrive on.
const EntryIntentsStream = "exitwatch:entry_intents"
