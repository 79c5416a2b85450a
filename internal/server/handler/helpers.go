package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxBodyBytes    = 64 << 10
)

// writeJSON encodes v before touching the response so an encoding failure
// can still produce a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit, offset, since, until and event. Malformed values
// fall back to the defaults; limit is capped at 500.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	opts := domain.ListOpts{
		Limit:  min(queryInt(q, "limit", defaultPageSize, 1), maxPageSize),
		Offset: queryInt(q, "offset", 0, 0),
		Event:  strings.TrimSpace(q.Get("event")),
	}
	if t, ok := parseTime(q.Get("since")); ok {
		opts.Since = &t
	}
	if t, ok := parseTime(q.Get("until")); ok {
		opts.Until = &t
	}
	return opts
}

func queryInt(q url.Values, key string, def, lowest int) int {
	n, err := strconv.Atoi(q.Get(key))
	if err != nil || n < lowest {
		return def
	}
	return n
}

// parseTime accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
func parseTime(v string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func pathParam(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("component", "http"), slog.String("handler", handler))
}

// decodeJSON reads a size-limited request body into v, rejecting unknown
// fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
