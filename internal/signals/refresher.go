package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// Refresher periodically reloads a Cache from a ScoreCache.
type Refresher struct {
	src      domain.ScoreCache
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher creates a Refresher.
func NewRefresher(src domain.ScoreCache, cache *Cache, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Refresher{
		src:      src,
		cache:    cache,
		interval: interval,
		logger:   logger.With(slog.String("component", "signals")),
	}
}

// Run refreshes immediately and then on every interval until ctx is done.
// Load failures are logged; the cache keeps serving its last snapshot until
// it goes stale.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("signals refresher started", slog.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("signals refresh failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh loads all three signal kinds. A kind that fails to load keeps its
// previous values.
func (r *Refresher) Refresh(ctx context.Context) error {
	var errs []error

	div, err := r.src.DivergenceScores(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("divergence: %w", err))
		div = nil
	}
	conf, err := r.src.PatternConfidences(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("confidence: %w", err))
		conf = nil
	}
	bands, err := r.src.Bands(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("bands: %w", err))
		bands = nil
	}

	if len(errs) < 3 {
		r.cache.Replace(div, conf, bands, time.Now())
	}
	if len(errs) > 0 {
		return fmt.Errorf("signals: refresh: %w", errors.Join(errs...))
	}
	r.logger.Debug("signals refreshed",
		slog.Int("divergence", len(div)),
		slog.Int("confidence", len(conf)),
		slog.Int("bands", len(bands)),
	)
	return nil
}
