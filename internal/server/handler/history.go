package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// HistoryHandler serves the audit log and the session archives.
type HistoryHandler struct {
	audit    domain.AuditStore
	archives domain.BlobReader
	prefix   func(day time.Time) string
	logger   *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler. archives may be nil when
// object storage is disabled; prefix maps a day to its archive key prefix.
func NewHistoryHandler(audit domain.AuditStore, archives domain.BlobReader, prefix func(time.Time) string, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		audit:    audit,
		archives: archives,
		prefix:   prefix,
		logger:   logHandler(logger, "history"),
	}
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?limit=&offset=&since=&until=
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListArchives returns the session archives written on a day.
// GET /api/archives?date=YYYY-MM-DD
func (h *HistoryHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotImplemented, "archive storage not configured")
		return
	}
	day := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = t
	}

	infos, err := h.archives.List(r.Context(), h.prefix(day))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":     day.Format(time.DateOnly),
		"archives": infos,
	})
}

// DownloadArchive streams one archived session object.
// GET /api/archives/{path...}
func (h *HistoryHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotImplemented, "archive storage not configured")
		return
	}
	key := r.PathValue("path")
	if key == "" || strings.Contains(key, "..") || path.Clean(key) != key {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	body, err := h.archives.Get(r.Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get archive failed",
			slog.String("path", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to read archive")
		return
	}
	defer body.Close()

	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".jsonl") {
		contentType = "application/x-ndjson"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive download interrupted",
			slog.String("path", key),
			slog.String("error", err.Error()),
		)
	}
}
