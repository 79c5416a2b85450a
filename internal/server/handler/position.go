package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// PositionRegistry is the in-memory view of monitored positions.
type PositionRegistry interface {
	Records() []*domain.PositionRecord
	Record(entryID string) (*domain.PositionRecord, bool)
}

// ExitRequester flags a position for a manual exit.
type ExitRequester interface {
	RequestExit(entryID string) error
}

// FillConfirmer applies an asynchronous order fill.
type FillConfirmer interface {
	ConfirmFill(ctx context.Context, clientID string, fill domain.Fill) error
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	registry PositionRegistry
	exits    ExitRequester
	fills    FillConfirmer
	journal  domain.JournalStore
	logger   *slog.Logger
}

// NewPositionHandler creates a PositionHandler. journal may be nil, in which
// case only in-memory positions are visible.
func NewPositionHandler(registry PositionRegistry, exits ExitRequester, fills FillConfirmer, journal domain.JournalStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		registry: registry,
		exits:    exits,
		fills:    fills,
		journal:  journal,
		logger:   logHandler(logger, "positions"),
	}
}

type positionResponse struct {
	domain.PositionView
	Status         string `json:"status"`
	PullbackActive bool   `json:"pullback_active"`
}

type listPositionsResponse struct {
	Positions []positionResponse `json:"positions"`
}

func toResponse(v domain.PositionView) positionResponse {
	return positionResponse{PositionView: v, Status: v.Status(), PullbackActive: v.Stats.PullbackActive()}
}

// ListPositions returns monitored positions. With ?session= it reads the
// journal instead, which also covers archived and pruned positions.
// GET /api/positions?status=open|exiting|closed|pending|rejected&session=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	session := r.URL.Query().Get("session")

	var views []domain.PositionView
	if session != "" {
		if h.journal == nil {
			writeError(w, http.StatusNotImplemented, "journal not configured")
			return
		}
		var err error
		views, err = h.journal.ListSession(r.Context(), session, parseListOpts(r))
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list session positions failed",
				slog.String("session_id", session),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list positions")
			return
		}
	} else {
		for _, rec := range h.registry.Records() {
			views = append(views, rec.View())
		}
		sort.Slice(views, func(i, j int) bool {
			return views[i].EntryTime.Before(views[j].EntryTime)
		})
	}

	out := make([]positionResponse, 0, len(views))
	for _, v := range views {
		if status != "" && v.Status() != status {
			continue
		}
		out = append(out, toResponse(v))
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: out})
}

// GetPosition returns one position from memory or, failing that, the
// journal.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if rec, ok := h.registry.Record(id); ok {
		writeJSON(w, http.StatusOK, toResponse(rec.View()))
		return
	}
	if h.journal != nil {
		v, err := h.journal.GetByID(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, toResponse(v))
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "get position failed",
				slog.String("entry_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to load position")
			return
		}
	}
	writeError(w, http.StatusNotFound, "position not found")
}

// RequestExit flags an open position for a manual exit on the next pass.
// POST /api/positions/{id}/exit
func (h *PositionHandler) RequestExit(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	err := h.exits.RequestExit(id)
	switch {
	case err == nil:
		h.logger.InfoContext(r.Context(), "manual exit requested", slog.String("entry_id", id))
		writeJSON(w, http.StatusAccepted, map[string]string{
			"entry_id": id,
			"status":   "exit_requested",
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "position not found")
	case errors.Is(err, domain.ErrAlreadyExited):
		writeError(w, http.StatusConflict, "position already exited")
	case errors.Is(err, domain.ErrNotEligible):
		writeError(w, http.StatusConflict, "position is not open")
	default:
		h.logger.ErrorContext(r.Context(), "request exit failed",
			slog.String("entry_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to request exit")
	}
}

type fillRequest struct {
	Purpose  domain.OrderPurpose `json:"purpose"`
	OrderID  string              `json:"order_id"`
	Price    float64             `json:"price"`
	Quantity float64             `json:"quantity"`
	FilledAt time.Time           `json:"filled_at"`
}

// ConfirmFill records an externally executed fill for a pending entry or
// exit order. Without an explicit purpose the fill is applied to the pending
// exit if there is one, otherwise to the entry.
// POST /api/positions/{id}/fill
func (h *PositionHandler) ConfirmFill(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req fillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Price <= 0 {
		writeError(w, http.StatusBadRequest, "price must be > 0")
		return
	}

	rec, ok := h.registry.Record(id)
	if !ok {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}

	purpose := req.Purpose
	if purpose == "" {
		purpose = domain.PurposeEntry
		if rec.ExitPending() {
			purpose = domain.PurposeExit
		}
	}
	clientID := rec.EntryID
	switch purpose {
	case domain.PurposeEntry:
	case domain.PurposeExit:
		clientID = rec.ExitID
	default:
		writeError(w, http.StatusBadRequest, "purpose must be entry or exit")
		return
	}

	filledAt := req.FilledAt
	if filledAt.IsZero() {
		filledAt = time.Now().UTC()
	}
	fill := domain.Fill{
		OrderID:  req.OrderID,
		ClientID: clientID,
		Price:    req.Price,
		Quantity: req.Quantity,
		FilledAt: filledAt,
	}

	err := h.fills.ConfirmFill(r.Context(), clientID, fill)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toResponse(rec.View()))
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no pending order for position")
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrAlreadyExited):
		writeError(w, http.StatusConflict, "order already filled")
	case errors.Is(err, domain.ErrNotEligible):
		writeError(w, http.StatusConflict, "entry was rejected")
	default:
		h.logger.ErrorContext(r.Context(), "confirm fill failed",
			slog.String("entry_id", id),
			slog.String("purpose", string(purpose)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to confirm fill")
	}
}
