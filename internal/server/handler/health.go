package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Probe reports whether one dependency is reachable.
type Probe func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	probes  map[string]Probe
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler that runs probes on every check.
// probes may be nil, in which case the check only reports liveness.
func NewHealthHandler(probes map[string]Probe, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		probes:  probes,
		timeout: 2 * time.Second,
		logger:  logHandler(logger, "health"),
	}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck runs every probe in parallel and answers 200 when all pass and
// 503 with the failing dependencies otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if len(h.probes) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	resp.Checks = make(map[string]string, len(h.probes))
	for name, probe := range h.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := "ok"
			if err := probe(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			resp.Checks[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	var failed []string
	for name, result := range resp.Checks {
		if result != "ok" {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	sort.Strings(failed)
	h.logger.WarnContext(r.Context(), "health check degraded", slog.Any("failed", failed))
	resp.Status = "degraded"
	writeJSON(w, http.StatusServiceUnavailable, resp)
}
