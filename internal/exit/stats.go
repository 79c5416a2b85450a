package exit

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// Profit returns the unrealized profit of a position closed at exitPrice.
func Profit(dir domain.Direction, entryPrice, exitPrice, quantity, pointValue float64) float64 {
	diff := decimal.NewFromFloat(exitPrice).Sub(decimal.NewFromFloat(entryPrice))
	p := diff.
		Mul(decimal.NewFromFloat(dir.Sign())).
		Mul(decimal.NewFromFloat(quantity)).
		Mul(decimal.NewFromFloat(pointValue))
	f, _ := p.Float64()
	return f
}

// StatsUpdater recomputes live statistics for a position from the latest quote.
type StatsUpdater struct {
	softThreshold float64
}

// NewStatsUpdater creates an updater that activates the pullback price once
// profit exceeds the rules' soft threshold.
func NewStatsUpdater(r Rules) *StatsUpdater {
	return &StatsUpdater{softThreshold: r.SoftThreshold()}
}

// Update refreshes the statistics of entry's record and returns the new copy.
// Without a usable quote the profit fields are left untouched. The first
// update seeds the all-time high and low with the first observed profit.
func (u *StatsUpdater) Update(entry *domain.MonitorEntry, q domain.Quote, hasQuote bool, divergence float64, bar int64, now time.Time) domain.PositionStats {
	rec := entry.Record
	price := 0.0
	if hasQuote {
		price = q.ExitPrice(entry.Direction)
	}
	entryPrice := rec.FillPrice()
	soft := u.softThreshold * math.Abs(entry.Quantity)

	var out domain.PositionStats
	rec.UpdateStats(func(s *domain.PositionStats) {
		s.DivergenceScore = divergence
		if divergence > s.MaxDivergence {
			s.MaxDivergence = divergence
		}
		s.Bar = bar
		s.UpdatedAt = now

		if price > 0 {
			profit := Profit(entry.Direction, entryPrice, price, entry.Quantity, entry.PointValue)
			if !s.Initialized {
				s.Initialized = true
				s.AllTimeHigh = profit
				s.AllTimeLow = profit
			}
			if profit > s.AllTimeHigh {
				s.AllTimeHigh = profit
			}
			if profit < s.AllTimeLow {
				s.AllTimeLow = profit
			}
			s.UnrealizedProfit = profit
			s.LastPrice = price
			if s.PullbackPrice == 0 && soft > 0 && profit > soft {
				s.PullbackPrice = price
			}
		}
		out = *s
	})
	return out
}

// Age returns the position age in bars.
func Age(rec *domain.PositionRecord, currentBar int64) int64 {
	return currentBar - rec.EntryBar
}
