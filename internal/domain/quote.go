package domain

import "time"

// Quote is the latest top of book for one instrument.
type Quote struct {
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExitPrice returns the price at which a position of direction d would be
// closed: the bid for longs and the ask for shorts.
func (q Quote) ExitPrice(d Direction) float64 {
	if d == DirectionShort {
		return q.Ask
	}
	return q.Bid
}

// Band is a reference price band (for example a volatility band) used by the
// protective stop.
type Band struct {
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
	Timestamp time.Time `json:"timestamp"`
}

// QuoteSource returns the latest in-memory quote. It never touches the
// network.
type QuoteSource interface {
	Quote(instrument string) (Quote, bool)
}

// DivergenceSource returns the current divergence score for an entry. Missing
// or stale values must read as 0.
type DivergenceSource interface {
	DivergenceScore(entryID string) float64
}

// ConfidenceSource returns the learned confidence multiplier for a pattern.
// Missing or stale values must read as 1.0.
type ConfidenceSource interface {
	PatternConfidence(patternID string) float64
}

// BandSource returns the protective band for an instrument, if one is known.
type BandSource interface {
	Band(instrument string) (Band, bool)
}
