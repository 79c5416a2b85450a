package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// ScoreCache implements domain.ScoreCache. Upstream model processes write
// divergence scores, pattern confidence multipliers and protective bands into
// three hashes; the signals refresher reads them in bulk.
//
//	<prefix>divergence  field entry id   -> score
//	<prefix>confidence  field pattern id -> multiplier
//	<prefix>bands       field instrument -> JSON band
type ScoreCache struct {
	c   *Client
	rdb *redis.Client
}

// NewScoreCache creates a ScoreCache backed by the given Client.
func NewScoreCache(c *Client) *ScoreCache {
	return &ScoreCache{c: c, rdb: c.Underlying()}
}

// DivergenceScores returns every stored divergence score.
func (sc *ScoreCache) DivergenceScores(ctx context.Context) (map[string]float64, error) {
	return sc.floatHash(ctx, "divergence")
}

// PatternConfidences returns every stored confidence multiplier.
func (sc *ScoreCache) PatternConfidences(ctx context.Context) (map[string]float64, error) {
	return sc.floatHash(ctx, "confidence")
}

// Bands returns every stored band. Malformed entries are skipped.
func (sc *ScoreCache) Bands(ctx context.Context) (map[string]domain.Band, error) {
	vals, err := sc.rdb.HGetAll(ctx, sc.c.Key("bands")).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get bands: %w", err)
	}
	out := make(map[string]domain.Band, len(vals))
	for inst, raw := range vals {
		var b domain.Band
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			continue
		}
		out[inst] = b
	}
	return out, nil
}

func (sc *ScoreCache) floatHash(ctx context.Context, name string) (map[string]float64, error) {
	vals, err := sc.rdb.HGetAll(ctx, sc.c.Key(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", name, err)
	}
	out := make(map[string]float64, len(vals))
	for k, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[k] = f
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ScoreCache = (*ScoreCache)(nil)
