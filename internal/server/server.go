// Package server exposes the monitoring API: engine status, positions,
// manual exits, fill confirmations, entry signal submission, history,
// Prometheus metrics and a WebSocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/server/handler"
	"github.com/alanyoungcy/exitwatch/internal/server/middleware"
	"github.com/alanyoungcy/exitwatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey is a comma-separated list of accepted keys so a key can be
	// rotated without downtime. Empty disables authentication.
	APIKey string

	// ExitRateMax manual exit requests are allowed per client per
	// ExitRateSpan. Zero disables the limit.
	ExitRateMax  int
	ExitRateSpan time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Signals, History and Metrics are optional.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Signals   *handler.SignalHandler
	History   *handler.HistoryHandler
	Metrics   http.Handler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	// Health and metrics bypass auth.
	public := http.NewServeMux()
	public.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		public.Handle("GET /metrics", handlers.Metrics)
	}

	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/positions/{id}/fill", handlers.Positions.ConfirmFill)

	var exit http.Handler = http.HandlerFunc(handlers.Positions.RequestExit)
	if limiter != nil && cfg.ExitRateMax > 0 {
		exit = middleware.RateLimit(limiter, "exit", cfg.ExitRateMax, cfg.ExitRateSpan, logger)(exit)
	}
	mux.Handle("POST /api/positions/{id}/exit", exit)

	if handlers.Signals != nil {
		mux.HandleFunc("POST /api/signals", handlers.Signals.SubmitSignal)
	}

	if handlers.History != nil {
		mux.HandleFunc("GET /api/audit", handlers.History.ListAudit)
		mux.HandleFunc("GET /api/archives", handlers.History.ListArchives)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.History.DownloadArchive)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Everything not public goes through auth.
	public.Handle("/", middleware.Auth(strings.Split(cfg.APIKey, ",")...)(mux))

	var h http.Handler = public
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
