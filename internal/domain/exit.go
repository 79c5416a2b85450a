package domain

import (
	"fmt"
	"strings"
)

// ExitReason is the terminal reason recorded on a PositionRecord. It is set at
// most once per record.
type ExitReason int

const (
	ReasonNone ExitReason = iota
	ReasonStopLoss
	ReasonTakeProfit
	ReasonPullback
	ReasonDivergence
	ReasonAge
	ReasonManual
)

var exitReasonNames = [...]string{
	ReasonNone:       "none",
	ReasonStopLoss:   "stop_loss",
	ReasonTakeProfit: "take_profit",
	ReasonPullback:   "pullback",
	ReasonDivergence: "divergence",
	ReasonAge:        "age",
	ReasonManual:     "manual",
}

func (r ExitReason) String() string {
	if r < 0 || int(r) >= len(exitReasonNames) {
		return fmt.Sprintf("exit_reason(%d)", int(r))
	}
	return exitReasonNames[r]
}

// MarshalText implements encoding.TextMarshaler.
func (r ExitReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ExitReason) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	for i, name := range exitReasonNames {
		if name == s {
			*r = ExitReason(i)
			return nil
		}
	}
	return fmt.Errorf("domain: unknown exit reason %q", s)
}

// ExitAction is the outcome of one evaluator run for one position.
type ExitAction int

const (
	ActionNone ExitAction = iota
	ActionHardStop
	ActionProtectiveStop
	ActionHardTakeProfit
	ActionSoftPullback
	ActionDivergenceReversal
	ActionAgeBased
	ActionExternalForce
)

var exitActionNames = [...]string{
	ActionNone:               "no_action",
	ActionHardStop:           "hard_stop",
	ActionProtectiveStop:     "protective_stop",
	ActionHardTakeProfit:     "hard_take_profit",
	ActionSoftPullback:       "soft_pullback",
	ActionDivergenceReversal: "divergence_reversal",
	ActionAgeBased:           "age_based",
	ActionExternalForce:      "external_force",
}

func (a ExitAction) String() string {
	if a < 0 || int(a) >= len(exitActionNames) {
		return fmt.Sprintf("exit_action(%d)", int(a))
	}
	return exitActionNames[a]
}

// Reason maps an action onto the reason recorded on the position. External
// force exits carry whatever reason was recorded before, so they map to
// ReasonNone here.
func (a ExitAction) Reason() ExitReason {
	switch a {
	case ActionHardStop, ActionProtectiveStop:
		return ReasonStopLoss
	case ActionHardTakeProfit:
		return ReasonTakeProfit
	case ActionSoftPullback:
		return ReasonPullback
	case ActionDivergenceReversal:
		return ReasonDivergence
	case ActionAgeBased:
		return ReasonAge
	default:
		return ReasonNone
	}
}

// Reason codes attached to decisions for downstream consumers.
const (
	CodeLongStop      = "long_stop"
	CodeShortStop     = "short_stop"
	CodeLongBandStop  = "long_band_stop"
	CodeShortBandStop = "short_band_stop"
	CodeTakeProfit    = "take_profit"
	CodeSoftPullback  = "soft_pullback"
	CodeDivergence    = "divergence"
	CodeAgeExit       = "age_exit"
	CodeManual        = "manual"
)

// Decision is the evaluator output: at most one exit action per position per
// cycle, plus a human-readable explanation.
type Decision struct {
	Action ExitAction
	Reason ExitReason
	Code   string
	Detail string
}

// IsExit reports whether the decision asks for the position to be closed.
func (d Decision) IsExit() bool {
	return d.Action != ActionNone
}
