// Package api exposes the consensus engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/metrics"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/service/consensus"
)

// DefaultRequestTimeout bounds a single API request when the caller sets
// none. It covers two phases of the default model timeout plus buffers.
const DefaultRequestTimeout = time.Hour

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// Consulter runs one consultation.
type Consulter interface {
	Consult(ctx context.Context, req consensus.Request) (*core.ConsensusReport, error)
}

// ModelLister reports the configured model identifiers.
type ModelLister interface {
	Models() []string
}

// Server provides the HTTP endpoints of the consensus engine.
type Server struct {
	router         chi.Router
	consulter      Consulter
	threads        core.ThreadStore
	models         ModelLister
	metrics        *metrics.Collector
	logger         *logging.Logger
	corsOrigins    []string
	requestTimeout time.Duration
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics exposes the collector at /metrics and /api/v1/stats.
func WithMetrics(c *metrics.Collector) ServerOption {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithModels enables GET /api/v1/models.
func WithModels(m ModelLister) ServerOption {
	return func(s *Server) {
		s.models = m
	}
}

// WithCORSOrigins sets the allowed CORS origins. Empty disables CORS, so
// browsers on other origins cannot read responses.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// NewServer creates a new API server.
func NewServer(consulter Consulter, threads core.ThreadStore, opts ...ServerOption) *Server {
	s := &Server{
		consulter:      consulter,
		threads:        threads,
		logger:         logging.NewNop(),
		requestTimeout: DefaultRequestTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures Chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	// rs/cors treats an empty origin list as "*".
	if len(s.corsOrigins) > 0 {
		corsHandler := cors.New(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", "X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		})
		r.Use(corsHandler.Handler)
	}

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))

		r.Post("/consult", s.handleConsult)
		r.Get("/threads/{threadID}", s.handleGetThread)
		if s.models != nil {
			r.Get("/models", s.handleListModels)
		}
		if s.metrics != nil {
			r.Get("/stats", s.handleStats)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests and tags the request context with
// the chi request id so engine logs can be correlated.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := logging.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))

		defer func() {
			s.logger.WithContext(ctx).Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
