package domain

import (
	"context"
	"time"
)

// QuoteCache holds the latest quotes shared between processes.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuotes(ctx context.Context, instruments []string) (map[string]Quote, error)
}

// ScoreCache holds externally computed signals: divergence scores keyed by
// entry id, confidence multipliers keyed by pattern id and protective bands
// keyed by instrument.
type ScoreCache interface {
	DivergenceScores(ctx context.Context) (map[string]float64, error)
	PatternConfidences(ctx context.Context) (map[string]float64, error)
	Bands(ctx context.Context) (map[string]Band, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
