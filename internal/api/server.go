// Package api exposes the Session Hub's ancillary HTTP surface: the
// WebSocket upgrade endpoint itself, health/readiness probes, Prometheus
// metrics, and the optional bootstrap device-pairing endpoint. It does not
// implement any protocol semantics — those live in internal/hub.
//
// Grounded on the teacher's internal/api/server.go: a root chi.Router that
// keeps the WebSocket path outside the API middleware stack, mounting a
// separate, fully middleware-wrapped router for everything else.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wisp-chat/wisp/internal/config"
	"github.com/wisp-chat/wisp/internal/hub"
	"github.com/wisp-chat/wisp/internal/observability"
)

// Server wires chi routing and middleware around the Session Hub.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	hub        *hub.Hub
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	logger     zerolog.Logger
	cfg        config.HubConfig
}

// New creates and configures an API Server. health and metrics may be nil.
// Complexity: O(1)
func New(cfg config.HubConfig, h *hub.Hub, health *observability.HealthChecker, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		hub:     h,
		health:  health,
		metrics: metrics,
		logger:  logger.With().Str("component", "api_server").Logger(),
		cfg:     cfg,
	}

	// Root router: keeps the WebSocket upgrade outside the API middleware
	// stack (no body-size limit, no request timeout, it's long-lived).
	r := chi.NewRouter()
	wsPath := cfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, h.Handler())

	apiRouter := chi.NewRouter()
	apiRouter.Use(middleware.RequestID)
	apiRouter.Use(middleware.RealIP)
	apiRouter.Use(RequestLogger(s.logger))
	apiRouter.Use(middleware.Recoverer)
	apiRouter.Use(middleware.Timeout(10 * time.Second))
	apiRouter.Use(SecurityHeaders())
	apiRouter.Use(CORSMiddleware(cfg.CORS))
	apiRouter.Use(MaxBodySize(1 << 16)) // 64 KB; no route here accepts a body

	rps := 20
	apiRouter.Use(RateLimitWithHeaders(rps))

	if metrics != nil {
		apiRouter.Use(MetricsMiddleware(metrics))
	}

	apiRouter.Get("/health", s.handleHealth)
	apiRouter.Get("/health/live", s.handleLiveness)
	apiRouter.Get("/health/ready", s.handleReadiness)
	apiRouter.Handle("/metrics", promhttp.Handler())
	apiRouter.Post("/bootstrap", s.handleBootstrap)

	r.Mount("/", apiRouter)

	s.router = r
	return s
}

// Start begins listening for HTTP connections (including the WebSocket
// upgrade). It blocks until the server is shut down or an error occurs.
// Complexity: O(1) startup
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info().Str("addr", addr).Str("ws_path", s.cfg.Path).Bool("tls", s.cfg.TLSEnabled).Msg("starting hub HTTP server")

	if s.cfg.TLSEnabled && s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
// Complexity: O(1)
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down hub HTTP server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the chi router as an http.Handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth returns the aggregated health status from all registered checks.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	result := s.health.Check(r.Context())
	status := http.StatusOK
	if result.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}

// handleLiveness reports whether the process is alive.
// GET /health/live
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadiness reports whether the hub is ready to accept connections.
// GET /health/ready
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	result := s.health.Check(r.Context())
	status := http.StatusOK
	if result.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(result.Status)})
}

// bootstrapResponse is the device-pairing payload: enough for a fresh
// client to dial the hub and pin its certificate before the first
// WebSocket frame is ever sent.
type bootstrapResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	HubPath   string `json:"hub_path"`
}

// handleBootstrap issues a short-lived pairing token. Returns 404 when the
// feature is disabled (the default), matching the spec's non-goal of no
// persistent device identity — this token only carries hub location info.
// POST /bootstrap
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	token, expiresAt, err := s.hub.IssueBootstrapToken()
	if err != nil {
		writeError(w, http.StatusNotFound, "bootstrap pairing is not enabled")
		return
	}

	writeJSON(w, http.StatusOK, bootstrapResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		HubPath:   s.cfg.Path,
	})

	// token is sensitive; sanitize before it ever reaches a log sink.
	fields := observability.SanitizeForLog(map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	s.logger.Debug().Interface("bootstrap", fields).Msg("issued bootstrap token")
}
