// Package exit decides when an open position should be closed and keeps the
// per-position profit statistics those decisions are based on.
package exit

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// Rules are the exit thresholds. Amounts are per unit of quantity after
// point-value scaling; the evaluator multiplies them by the live quantity.
type Rules struct {
	StopLoss            float64 `json:"stop_loss"`
	TakeProfit          float64 `json:"take_profit"`
	SoftTarget          float64 `json:"soft_target"`
	SoftMultiplier      float64 `json:"soft_multiplier"`
	PullbackFraction    float64 `json:"pullback_fraction"`
	DivergenceThreshold float64 `json:"divergence_threshold"`
	AgeExitBars         int64   `json:"age_exit_bars"`
	EnableProtective    bool    `json:"enable_protective"`
	EnableDivergence    bool    `json:"enable_divergence"`
	EnableAgeExit       bool    `json:"enable_age_exit"`
}

// SoftThreshold returns the per-unit soft target after the multiplier.
func (r Rules) SoftThreshold() float64 {
	m := r.SoftMultiplier
	if m <= 0 {
		m = 1
	}
	return r.SoftTarget * m
}

// Input is everything the evaluator needs for one position on one cycle.
type Input struct {
	Eligible  bool
	Direction domain.Direction
	Quantity  float64
	Stats     domain.PositionStats
	Age       int64

	// StopLoss and TakeProfit override the rules for this position when > 0.
	StopLoss   float64
	TakeProfit float64

	Quote    domain.Quote
	HasQuote bool
	Band     domain.Band
	HasBand  bool

	Divergence float64
	Confidence float64

	ForceExit   bool
	ForceReason domain.ExitReason
	ForceCode   string
}

// Evaluator applies the exit rules in fixed priority order. It holds no state
// and is safe for concurrent use.
type Evaluator struct {
	rules Rules
}

// NewEvaluator creates an Evaluator for the given rules.
func NewEvaluator(r Rules) *Evaluator {
	return &Evaluator{rules: r}
}

// Rules returns the configured rules.
func (e *Evaluator) Rules() Rules {
	return e.rules
}

// Evaluate returns at most one exit decision. The first matching rule wins:
// force, hard stop, protective band stop, take profit, soft pullback,
// divergence reversal, then age.
func (e *Evaluator) Evaluate(in Input) domain.Decision {
	if !in.Eligible {
		return domain.Decision{Action: domain.ActionNone, Detail: "not eligible"}
	}

	if in.ForceExit {
		return domain.Decision{
			Action: domain.ActionExternalForce,
			Reason: in.ForceReason,
			Code:   in.ForceCode,
			Detail: fmt.Sprintf("force exit flagged earlier (%s)", in.ForceReason),
		}
	}

	qty := math.Abs(in.Quantity)
	profit := in.Stats.UnrealizedProfit
	ath := in.Stats.AllTimeHigh
	r := e.rules

	if in.StopLoss > 0 {
		r.StopLoss = in.StopLoss
	}
	if in.TakeProfit > 0 {
		r.TakeProfit = in.TakeProfit
	}

	if r.StopLoss > 0 {
		stop := r.StopLoss * qty
		if profit <= -stop {
			code := domain.CodeLongStop
			if in.Direction == domain.DirectionShort {
				code = domain.CodeShortStop
			}
			return decision(domain.ActionHardStop, code,
				fmt.Sprintf("profit %.2f breached stop -%.2f", profit, stop))
		}
	}

	if r.EnableProtective && in.HasBand && in.HasQuote {
		switch in.Direction {
		case domain.DirectionLong:
			if in.Band.Lower > 0 && in.Quote.Bid > 0 && in.Quote.Bid < in.Band.Lower {
				return decision(domain.ActionProtectiveStop, domain.CodeLongBandStop,
					fmt.Sprintf("bid %.4f crossed below band %.4f", in.Quote.Bid, in.Band.Lower))
			}
		case domain.DirectionShort:
			if in.Band.Upper > 0 && in.Quote.Ask > in.Band.Upper {
				return decision(domain.ActionProtectiveStop, domain.CodeShortBandStop,
					fmt.Sprintf("ask %.4f crossed above band %.4f", in.Quote.Ask, in.Band.Upper))
			}
		}
	}

	if r.TakeProfit > 0 {
		target := r.TakeProfit * qty
		if profit > target {
			return decision(domain.ActionHardTakeProfit, domain.CodeTakeProfit,
				fmt.Sprintf("profit %.2f exceeded target %.2f", profit, target))
		}
	}

	if soft := r.SoftThreshold() * qty; soft > 0 && ath > soft {
		floor := math.Max(soft, r.PullbackFraction*ath)
		if profit < 0 || profit < floor {
			return decision(domain.ActionSoftPullback, domain.CodeSoftPullback,
				fmt.Sprintf("profit %.2f retraced below %.2f after peak %.2f", profit, floor, ath))
		}
	}

	if r.EnableDivergence {
		conf := in.Confidence
		if conf <= 0 || math.IsNaN(conf) || math.IsInf(conf, 0) {
			conf = 1
		}
		threshold := r.DivergenceThreshold * conf
		if in.Divergence > threshold && profit < ath {
			return decision(domain.ActionDivergenceReversal, domain.CodeDivergence,
				fmt.Sprintf("divergence %.3f above %.3f with profit %.2f under peak %.2f", in.Divergence, threshold, profit, ath))
		}
	}

	if r.EnableAgeExit && r.AgeExitBars > 0 && in.Age == r.AgeExitBars && ath < 0 {
		return decision(domain.ActionAgeBased, domain.CodeAgeExit,
			fmt.Sprintf("age %d bars without positive excursion (peak %.2f)", in.Age, ath))
	}

	return domain.Decision{Action: domain.ActionNone}
}

func decision(a domain.ExitAction, code, detail string) domain.Decision {
	return domain.Decision{Action: a, Reason: a.Reason(), Code: code, Detail: detail}
}
