package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/cache/redis"
	"github.com/alanyoungcy/exitwatch/internal/domain"
)

const (
	resubscribeMin = time.Second
	resubscribeMax = 30 * time.Second
)

// QuoteFeeder seeds a QuoteBook from the shared quote cache and then keeps it
// current from the quote broadcast channel.
type QuoteFeeder struct {
	bus         domain.SignalBus
	cache       domain.QuoteCache
	book        *QuoteBook
	instruments []string
	onUpdate    func()
	logger      *slog.Logger

	retryMin time.Duration
	retryMax time.Duration
}

// NewQuoteFeeder creates a QuoteFeeder. onUpdate, if non-nil, is called after
// every quote that changes the book.
func NewQuoteFeeder(bus domain.SignalBus, cache domain.QuoteCache, book *QuoteBook, instruments []string, onUpdate func(), logger *slog.Logger) *QuoteFeeder {
	return &QuoteFeeder{
		bus:         bus,
		cache:       cache,
		book:        book,
		instruments: instruments,
		onUpdate:    onUpdate,
		logger:      logger.With(slog.String("component", "quote_feeder")),
		retryMin:    resubscribeMin,
		retryMax:    resubscribeMax,
	}
}

// Seed loads the cached quotes for every configured instrument.
func (f *QuoteFeeder) Seed(ctx context.Context) (int, error) {
	if len(f.instruments) == 0 {
		return 0, nil
	}
	quotes, err := f.cache.GetQuotes(ctx, f.instruments)
	if err != nil {
		return 0, fmt.Errorf("feed: seed quotes: %w", err)
	}
	n := 0
	for _, q := range quotes {
		if f.book.Update(q) {
			n++
		}
	}
	return n, nil
}

// Run applies broadcast quotes until ctx is done. A failed or closed
// subscription is retried with exponential backoff, and every new
// subscription reseeds the book from the cache to cover the gap.
func (f *QuoteFeeder) Run(ctx context.Context) error {
	defer f.logger.Info("quote feeder stopped")

	delay := f.retryMin
	for {
		ch, err := f.bus.Subscribe(ctx, redis.QuotesChannel)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("quote subscribe failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
		} else {
			delay = f.retryMin
			if n, err := f.Seed(ctx); err != nil {
				f.logger.Warn("quote seed failed", slog.String("error", err.Error()))
			} else {
				f.logger.Info("quote feed subscribed", slog.Int("seeded", n))
			}
			f.consume(ctx, ch)
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("quote subscription closed", slog.Duration("retry_in", delay))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, f.retryMax)
	}
}

func (f *QuoteFeeder) consume(ctx context.Context, ch <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			f.handleMessage(data)
		}
	}
}

func (f *QuoteFeeder) handleMessage(data []byte) {
	q, err := redis.DecodeQuote(data)
	if err != nil {
		f.logger.Debug("quote decode failed",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}
	if f.book.Update(q) && f.onUpdate != nil {
		f.onUpdate()
	}
}
