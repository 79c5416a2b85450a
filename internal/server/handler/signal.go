package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// StreamAppender appends a payload to a durable stream.
type StreamAppender interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// SignalHandler queues entry signals submitted over HTTP onto the entry
// intents stream. They are picked up by the intent feeder like signals from
// upstream pattern processes, so dedup and validation happen in one place.
type SignalHandler struct {
	bus    StreamAppender
	now    func() time.Time
	logger *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(bus StreamAppender, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{bus: bus, now: time.Now, logger: logHandler(logger, "signals")}
}

// SubmitSignal queues one entry signal. A missing id is generated.
// POST /api/signals
func (h *SignalHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var sig domain.EntrySignal
	if err := decodeJSON(w, r, &sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch {
	case sig.Instrument == "":
		writeError(w, http.StatusBadRequest, "instrument is required")
		return
	case !sig.Direction.Valid():
		writeError(w, http.StatusBadRequest, "direction must be long or short")
		return
	case sig.Quantity < 0 || sig.Price < 0:
		writeError(w, http.StatusBadRequest, "quantity and price must not be negative")
		return
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = h.now().UTC()
	}

	payload, err := json.Marshal(sig)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode signal")
		return
	}
	if err := h.bus.StreamAppend(r.Context(), domain.EntryIntentsStream, payload); err != nil {
		h.logger.ErrorContext(r.Context(), "queue signal failed",
			slog.String("signal_id", sig.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to queue signal")
		return
	}
	h.logger.InfoContext(r.Context(), "signal queued",
		slog.String("signal_id", sig.ID),
		slog.String("instrument", sig.Instrument),
		slog.String("direction", string(sig.Direction)),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": sig.ID, "status": "queued"})
}
