// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jeranaias/kgassist/internal/actions"
	"github.com/jeranaias/kgassist/internal/config"
	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/router"
	"github.com/jeranaias/kgassist/internal/semantic"
	"github.com/jeranaias/kgassist/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds the query request body (1MB).
	MaxRequestBodySize = 1 << 20

	// Version is the API version reported by /health.
	Version = "1.0.0"
)

// ============================================================================
// COLLABORATORS
// ============================================================================

// QueryHandler answers assistant queries. *dispatch.Dispatcher implements it.
type QueryHandler interface {
	Handle(ctx context.Context, q dispatch.Query) (*dispatch.Response, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ActionStats is the slice of the action registry the stats endpoint reads.
type ActionStats interface {
	Names() []string
	Stats() map[string]actions.Stats
}

// IndexStats is the slice of the semantic index the stats endpoint reads.
type IndexStats interface {
	Stats() semantic.IndexStats
}

// ProviderStatus reports whether the completion provider can be called.
type ProviderStatus interface {
	IsConfigured() bool
	Model() string
}

// Options wires a Server. Dispatcher is required; everything else may be nil.
type Options struct {
	Addr           string
	Dispatcher     QueryHandler
	Auth           *Authenticator
	RateLimiter    *RateLimiter
	CORS           *CORSConfig
	RequestTimeout time.Duration

	Aggregator *telemetry.Aggregator
	Router     *router.Router
	Actions    ActionStats
	Index      IndexStats
	Provider   ProviderStatus
	Store      Pinger

	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// FromConfig fills the HTTP-facing options from configuration.
func (o *Options) FromConfig(cfg config.ServerConfig, anonymous bool, requestTimeout time.Duration) {
	o.Addr = cfg.Addr
	o.Auth = NewAuthenticator(cfg.Tokens, anonymous)
	if cfg.RateLimit > 0 {
		o.RateLimiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	if len(cfg.CORSOrigins) > 0 {
		o.CORS = NewCORSConfig(cfg.CORSOrigins)
	}
	o.RequestTimeout = requestTimeout
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API in front of the dispatcher.
type Server struct {
	opts    Options
	mux     *http.ServeMux
	handler http.Handler
	logger  zerolog.Logger
	started time.Time

	mu     sync.Mutex
	server *http.Server
}

// New builds the server and its middleware chain.
func New(opts Options) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("server: dispatcher is required")
	}
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator(nil, false)
	}
	s := &Server{
		opts:    opts,
		mux:     http.NewServeMux(),
		logger:  opts.Logger.With().Str("component", "server").Logger(),
		started: time.Now(),
	}
	s.setupRoutes()

	chain := []func(http.Handler) http.Handler{
		RequestIDMiddleware(),
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger, opts.Metrics),
		SecurityHeadersMiddleware(),
	}
	if opts.CORS != nil {
		chain = append(chain, CORSMiddleware(opts.CORS))
	}
	if opts.RateLimiter != nil {
		chain = append(chain, RateLimitMiddleware(opts.RateLimiter, s.logger))
	}
	s.handler = Chain(chain...)(s.mux)
	return s, nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) setupRoutes() {
	auth := AuthMiddleware(s.opts.Auth, s.logger)

	s.mux.Handle("POST /api/ai/query", auth(http.HandlerFunc(s.handleQuery)))
	s.mux.Handle("GET /api/ai/stats", auth(http.HandlerFunc(s.handleStats)))
	s.mux.HandleFunc("GET /health", s.handleHealth)

	gatherer := s.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// ============================================================================
// QUERY HANDLER
// ============================================================================

// QueryRequest is the body of POST /api/ai/query.
type QueryRequest struct {
	Query          string            `json:"query"`
	ConversationID string            `json:"conversationId"`
	Metadata       dispatch.Metadata `json:"metadata"`
}

// handleQuery handles POST /api/ai/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body exceeds 1MB")
			return
		}
		writeFailure(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	if strings.TrimSpace(req.Query) == "" || strings.TrimSpace(req.ConversationID) == "" {
		writeFailure(w, http.StatusBadRequest, "invalid_request", "query and conversationId are required")
		return
	}

	id, _ := IdentityFrom(r.Context())
	meta := req.Metadata
	// The token decides the role; the body cannot raise it.
	meta.UserRole = id.Role

	ctx := r.Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	resp, err := s.opts.Dispatcher.Handle(ctx, dispatch.Query{
		Text:           req.Query,
		ConversationID: req.ConversationID,
		UserID:         id.UserID,
		Metadata:       meta,
		RequestID:      RequestIDFrom(r.Context()),
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, dispatch.ErrInvalidRequest):
		writeFailure(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeFailure(w, http.StatusGatewayTimeout, "timeout", "the assistant did not answer in time")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		w.WriteHeader(499)
	default:
		s.logger.Error().
			Err(err).
			Str("request_id", RequestIDFrom(r.Context())).
			Str("user", id.UserID).
			Msg("REQUEST_FAILED")
		writeFailure(w, http.StatusInternalServerError, "internal_error", "AI服务暂时不可用")
	}
}

// ============================================================================
// STATS HANDLER
// ============================================================================

// ActionSection is the action registry part of the stats payload.
type ActionSection struct {
	Registered []string                 `json:"registered"`
	Executions int64                    `json:"executions"`
	Failures   int64                    `json:"failures"`
	PerAction  map[string]actions.Stats `json:"perAction"`
}

// StatsResponse is the data of GET /api/ai/stats.
type StatsResponse struct {
	Performance telemetry.Snapshot   `json:"performance"`
	Router      *router.Stats        `json:"router,omitempty"`
	Actions     *ActionSection       `json:"actions,omitempty"`
	Semantic    *semantic.IndexStats `json:"semantic,omitempty"`
}

// Stats assembles the stats payload.
func (s *Server) Stats() StatsResponse {
	var out StatsResponse
	if s.opts.Aggregator != nil {
		out.Performance = s.opts.Aggregator.Snapshot()
	}
	if s.opts.Router != nil {
		rs := s.opts.Router.Stats()
		out.Router = &rs
	}
	if s.opts.Actions != nil {
		per := s.opts.Actions.Stats()
		sec := &ActionSection{Registered: s.opts.Actions.Names(), PerAction: per}
		for _, st := range per {
			sec.Executions += st.Calls
			sec.Failures += st.Failures
		}
		out.Actions = sec
	}
	if s.opts.Index != nil {
		is := s.opts.Index.Stats()
		out.Semantic = &is
	}
	return out
}

// handleStats handles GET /api/ai/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    s.Stats(),
	})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Store         string `json:"store"`
	Provider      string `json:"provider"`
	Model         string `json:"model,omitempty"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// handleHealth handles GET /health. A failing store degrades the status
// and answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		Store:         "not_configured",
		Provider:      "not_configured",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	if s.opts.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Store.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("health: store ping failed")
			health.Store = "unavailable"
			health.Status = "degraded"
		} else {
			health.Store = "ok"
		}
	}
	if s.opts.Provider != nil && s.opts.Provider.IsConfigured() {
		health.Provider = "configured"
		health.Model = s.opts.Provider.Model()
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.writeTimeout(),
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", s.opts.Addr).Str("version", Version).Msg("SERVER_START")
	return srv.ListenAndServe()
}

func (s *Server) writeTimeout() time.Duration {
	if s.opts.RequestTimeout > 0 {
		return s.opts.RequestTimeout + 10*time.Second
	}
	return 120 * time.Second
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info().Msg("SERVER_SHUTDOWN")
	return srv.Shutdown(ctx)
}

// SweepLoop periodically forgets idle rate-limit clients until ctx ends.
func (s *Server) SweepLoop(ctx context.Context, every time.Duration) {
	if s.opts.RateLimiter == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.opts.RateLimiter.Sweep(); n > 0 {
				s.logger.Debug().Int("clients", n).Msg("rate limiter sweep")
			}
		}
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// failureBody is the error shape of every endpoint.
type failureBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, failureBody{Success: false, Error: code, Message: message})
}
