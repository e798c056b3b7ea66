// Package server exposes the complaint pipeline over HTTP: case
// submission, customer memory lookups, and audit retrieval.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/recourse/internal/audit"
	"github.com/dativo-io/recourse/internal/complaint"
	"github.com/dativo-io/recourse/internal/memory"
	"github.com/dativo-io/recourse/internal/otel"
)

const defaultTimeout = 120 * time.Second

// CaseRunner drives a case record through the full pipeline.
type CaseRunner interface {
	Run(ctx context.Context, rec *complaint.CaseRecord) error
}

// Server holds the HTTP API dependencies.
type Server struct {
	router      *chi.Mux
	pipeline    CaseRunner
	memoryStore *memory.Store
	auditStore  *audit.Store
	limiter     *RateLimiter
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithMemoryStore enables the customer memory endpoint.
func WithMemoryStore(m *memory.Store) Option {
	return func(s *Server) { s.memoryStore = m }
}

// WithAuditStore enables the case audit endpoint.
func WithAuditStore(a *audit.Store) Option {
	return func(s *Server) { s.auditStore = a }
}

// WithRateLimit sets the per-client request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = NewRateLimiter(rps, burst) }
}

// NewServer builds a Server around the pipeline with optional stores.
func NewServer(p CaseRunner, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		pipeline:  p,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultTimeout))
	r.Use(otel.Middleware())
	if s.limiter != nil {
		r.Use(s.rateLimitMiddleware)
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/cases", s.handleCreateCase)
	r.Get("/v1/cases/{caseID}/audit", s.handleCaseAudit)
	r.Get("/v1/customers/{customerID}/memory", s.handleCustomerMemory)
	return r
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(client); err == nil {
			client = host
		}
		if !s.limiter.Allow(client) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
