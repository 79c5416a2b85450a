package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// IntentFeeder reads entry signals from the durable intents stream and hands
// them to the executor. Expired signals are dropped.
type IntentFeeder struct {
	bus    domain.SignalBus
	out    chan<- domain.EntrySignal
	batch  int
	lastID string
	now    func() time.Time
	logger *slog.Logger
}

// NewIntentFeeder creates an IntentFeeder. Reading starts from new entries
// only ("$"); pass a stream id to replay from a known position.
func NewIntentFeeder(bus domain.SignalBus, out chan<- domain.EntrySignal, batch int, startID string, logger *slog.Logger) *IntentFeeder {
	if batch <= 0 {
		batch = 64
	}
	if startID == "" {
		startID = "$"
	}
	return &IntentFeeder{
		bus:    bus,
		out:    out,
		batch:  batch,
		lastID: startID,
		now:    time.Now,
		logger: logger.With(slog.String("component", "intent_feeder")),
	}
}

// Run polls the stream until ctx is done.
func (f *IntentFeeder) Run(ctx context.Context) error {
	f.logger.Info("intent feeder started", slog.String("stream", domain.EntryIntentsStream))
	defer f.logger.Info("intent feeder stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := f.bus.StreamRead(ctx, domain.EntryIntentsStream, f.lastID, f.batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("intent stream read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, m := range msgs {
			f.lastID = m.ID
			sig, err := decodeSignal(m.Payload)
			if err != nil {
				f.logger.Warn("intent dropped",
					slog.String("stream_id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if sig.Expired(f.now()) {
				f.logger.Info("intent expired", slog.String("signal_id", sig.ID))
				continue
			}
			select {
			case f.out <- sig:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// LastID returns the id of the last stream entry consumed.
func (f *IntentFeeder) LastID() string { return f.lastID }

func decodeSignal(payload []byte) (domain.EntrySignal, error) {
	var sig domain.EntrySignal
	if len(payload) == 0 {
		return sig, fmt.Errorf("feed: decode signal: empty payload")
	}
	if err := json.Unmarshal(payload, &sig); err != nil {
		return sig, fmt.Errorf("feed: decode signal: %w", err)
	}
	if sig.Instrument == "" {
		return sig, fmt.Errorf("feed: decode signal: missing instrument")
	}
	if !sig.Direction.Valid() {
		return sig, fmt.Errorf("feed: decode signal: invalid direction %q", sig.Direction)
	}
	return sig, nil
}
