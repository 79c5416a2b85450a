package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// instrument's quote lives at "<prefix>quote:{instrument}" with fields "bid",
// "ask" and "ts" (Unix nanoseconds). Every write is also published on
// QuotesChannel so in-process books stay current without polling.
type QuoteCache struct {
	c   *Client
	rdb *redis.Client
}

// QuotesChannel is the pub/sub channel quote updates are broadcast on.
const QuotesChannel = "exitwatch:quotes"

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{c: c, rdb: c.Underlying()}
}

func (qc *QuoteCache) quoteKey(instrument string) string {
	return qc.c.Key("quote", instrument)
}

// SetQuote stores the latest quote and publishes it.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	fields := map[string]interface{}{
		"bid": strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask": strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"ts":  strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
	payload, err := encodeQuote(q)
	if err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Instrument, err)
	}
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, qc.quoteKey(q.Instrument), fields)
	pipe.Publish(ctx, QuotesChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Instrument, err)
	}
	return nil
}

// GetQuotes retrieves the latest quotes for several instruments using a
// pipeline. Instruments without a quote are omitted from the result.
func (qc *QuoteCache) GetQuotes(ctx context.Context, instruments []string) (map[string]domain.Quote, error) {
	if len(instruments) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(instruments))
	for _, id := range instruments {
		cmds[id] = pipe.HGetAll(ctx, qc.quoteKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.Quote, len(instruments))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		q, err := parseQuote(id, vals)
		if err != nil {
			continue
		}
		result[id] = q
	}
	return result, nil
}

func parseQuote(instrument string, vals map[string]string) (domain.Quote, error) {
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	q := domain.Quote{Instrument: instrument}
	var err error
	if q.Bid, err = parseFloatField(vals, "bid"); err != nil {
		return domain.Quote{}, err
	}
	if q.Ask, err = parseFloatField(vals, "ask"); err != nil {
		return domain.Quote{}, err
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse ts: %w", err)
	}
	q.Timestamp = time.Unix(0, tsNano)
	return q, nil
}

func parseFloatField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return f, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
