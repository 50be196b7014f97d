package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/trialmatch/internal/auth"
	"github.com/mattjoyce/trialmatch/internal/events"
	"github.com/mattjoyce/trialmatch/internal/guard"
	"github.com/mattjoyce/trialmatch/internal/history"
	"github.com/mattjoyce/trialmatch/internal/matching"
	"github.com/mattjoyce/trialmatch/internal/records"
)

// PatientStore defines the patient record operations used by the API.
type PatientStore interface {
	List(ctx context.Context, filter map[string]string) ([]records.Patient, error)
	Get(ctx context.Context, id int64) (*records.Patient, error)
	Update(ctx context.Context, id int64, fields map[string]any) error
	Delete(ctx context.Context, id int64) error
}

// TrialStore defines the trial record operations used by the API.
type TrialStore interface {
	List(ctx context.Context, filter map[string]string) ([]records.Trial, error)
	Get(ctx context.Context, id int64) (*records.Trial, error)
	Create(ctx context.Context, fields map[string]any) (int64, error)
	Update(ctx context.Context, id int64, fields map[string]any) error
	Delete(ctx context.Context, id int64) error
}

// MatchStore stores worker-produced matches.
type MatchStore interface {
	Save(ctx context.Context, matches []records.Match) ([]records.Match, error)
	List(ctx context.Context, patientID int64) ([]records.Match, error)
}

// Matcher runs the worker. *matching.Service satisfies it.
type Matcher interface {
	Match(ctx context.Context, patient any, subject string) (*matching.Outcome, error)
	MatchPatient(ctx context.Context, id int64) (*matching.Outcome, error)
	CreatePatient(ctx context.Context, fields map[string]any) (*matching.Created, error)
}

// InvocationLog reads invocation history.
type InvocationLog interface {
	Get(ctx context.Context, correlationID string) (*history.Entry, error)
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// WorkerStats reports concurrency guard occupancy. *guard.Guard satisfies it.
type WorkerStats interface {
	Stats() guard.Stats
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the single admin bearer token (scope "*").
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens         []auth.TokenConfig
	AllowedOrigins []string
	MaxBodyBytes   int64
	Environment    string
	// Production hides worker diagnostics from 5xx responses.
	Production bool
	// WriteTimeout must outlast the worker timeout.
	WriteTimeout time.Duration
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Patients    PatientStore
	Trials      TrialStore
	Matches     MatchStore
	Matcher     Matcher
	Invocations InvocationLog
	Workers     WorkerStats
	Events      *events.Hub
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 10 << 20
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 2 * time.Minute
	}
	if deps.Events == nil {
		deps.Events = events.NewHub(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// SSE streams are exempt: handleEvents clears its own write deadline.
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.authEnabled())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders: []string{"X-Correlation-ID", "X-Request-Id"},
	}).Handler)
	r.Use(s.limitBody)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		for _, rt := range s.routes() {
			r.With(s.requireScopes(rt.scopes...)).Method(rt.method, rt.path, rt.handler)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// securityHeaders sets the usual hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'self'; object-src 'none'")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		h.Set("Origin-Agent-Cluster", "?1")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-Download-Options", "noopen")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("X-XSS-Protection", "0")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
