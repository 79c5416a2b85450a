package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/engine"
)

// EngineStatus reports the scheduler and registry state.
type EngineStatus interface {
	Status() engine.Status
}

// TradingState reports whether automated order submission is disabled.
type TradingState interface {
	Disabled() bool
}

// SessionInfo reports the current session and when it began.
type SessionInfo interface {
	Current() string
	StartedAt() time.Time
}

// QuoteSnapshot returns the latest quote held for every instrument.
type QuoteSnapshot interface {
	Snapshot() map[string]domain.Quote
}

// StatusHandler serves the runtime status used by dashboards and probes.
type StatusHandler struct {
	mode      string
	label     string
	engine    EngineStatus
	trading   TradingState
	sessions  SessionInfo
	quotes    QuoteSnapshot
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler. quotes may be nil.
func NewStatusHandler(mode, label string, eng EngineStatus, trading TradingState, sessions SessionInfo, quotes QuoteSnapshot) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		label:     label,
		engine:    eng,
		trading:   trading,
		sessions:  sessions,
		quotes:    quotes,
		startedAt: time.Now(),
	}
}

type statusResponse struct {
	Mode             string                  `json:"mode"`
	Label            string                  `json:"label"`
	SessionID        string                  `json:"session_id"`
	SessionStartedAt time.Time               `json:"session_started_at"`
	TradingDisabled  bool                    `json:"trading_disabled"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	Engine           engine.Status           `json:"engine"`
	Quotes           map[string]domain.Quote `json:"quotes,omitempty"`
}

// GetStatus responds with the engine state, session, trading flag and the
// quotes the scheduler is pricing against.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:             h.mode,
		Label:            h.label,
		SessionID:        h.sessions.Current(),
		SessionStartedAt: h.sessions.StartedAt(),
		TradingDisabled:  h.trading.Disabled(),
		UptimeSeconds:    int64(time.Since(h.startedAt).Seconds()),
		Engine:           h.engine.Status(),
	}
	if h.quotes != nil {
		resp.Quotes = h.quotes.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}
