// Package signals serves divergence scores, pattern confidence multipliers
// and protective bands to the scheduler from memory. Values are reloaded in
// the background; lookups never block on the network and fall back to neutral
// values when data is missing or stale.
package signals

import (
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// Neutral values returned when a lookup has nothing trustworthy.
const (
	NeutralDivergence = 0.0
	NeutralConfidence = 1.0
)

// Cache is an in-memory snapshot of externally computed signals.
type Cache struct {
	mu         sync.RWMutex
	divergence map[string]float64
	confidence map[string]float64
	bands      map[string]domain.Band
	loadedAt   time.Time
	staleAfter time.Duration
	now        func() time.Time
}

// NewCache creates an empty cache. Data older than staleAfter is ignored;
// zero disables staleness checks.
func NewCache(staleAfter time.Duration) *Cache {
	return &Cache{
		divergence: map[string]float64{},
		confidence: map[string]float64{},
		bands:      map[string]domain.Band{},
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

var (
	_ domain.DivergenceSource = (*Cache)(nil)
	_ domain.ConfidenceSource = (*Cache)(nil)
	_ domain.BandSource       = (*Cache)(nil)
)

// Replace swaps in a freshly loaded snapshot. Nil maps leave the current
// values for that kind untouched.
func (c *Cache) Replace(div, conf map[string]float64, bands map[string]domain.Band, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if div != nil {
		c.divergence = div
	}
	if conf != nil {
		c.confidence = conf
	}
	if bands != nil {
		c.bands = bands
	}
	c.loadedAt = at
}

// LoadedAt returns when the snapshot was last replaced.
func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

func (c *Cache) staleLocked(at time.Time) bool {
	if c.staleAfter <= 0 {
		return false
	}
	return at.IsZero() || c.now().Sub(at) > c.staleAfter
}

// DivergenceScore returns the score for entryID, or 0.
func (c *Cache) DivergenceScore(entryID string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.staleLocked(c.loadedAt) {
		return NeutralDivergence
	}
	v, ok := c.divergence[entryID]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return NeutralDivergence
	}
	return v
}

// PatternConfidence returns the multiplier for patternID, or 1.0.
func (c *Cache) PatternConfidence(patternID string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if patternID == "" || c.staleLocked(c.loadedAt) {
		return NeutralConfidence
	}
	v, ok := c.confidence[patternID]
	if !ok || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return NeutralConfidence
	}
	return v
}

// Band returns the protective band for instrument if it is fresh.
func (c *Cache) Band(instrument string) (domain.Band, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.staleLocked(c.loadedAt) {
		return domain.Band{}, false
	}
	b, ok := c.bands[instrument]
	if !ok || b.Lower >= b.Upper {
		return domain.Band{}, false
	}
	if !b.Timestamp.IsZero() && c.staleLocked(b.Timestamp) {
		return domain.Band{}, false
	}
	return b, true
}
