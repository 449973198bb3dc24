// Package admin поднимает служебный HTTP: health, метрики, состояние планировщика и песочница тенантов.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"github.com/xela07ax/spaceai-agentops/internal/infra/auth"
	"github.com/xela07ax/spaceai-agentops/internal/scheduler"
	"go.uber.org/zap"
)

// Scope операторских токенов
const (
	ScopeSchedulerRead = "scheduler.read"
	ScopeSandboxWrite  = "sandbox.write"
	ScopeApprove       = "remediation.approve"
)

type StatusSource interface {
	Status() scheduler.Status
}

type SandboxControl interface {
	SetSandbox(ctx context.Context, tenantID string, enabled bool) error
	Tenants() []string
}

type DecisionPublisher interface {
	PublishDecision(ctx context.Context, id string, approved bool) error
}

// Deps: nil Validator закрывает защищенную часть API (503).
type Deps struct {
	Scheduler StatusSource
	Sandbox   SandboxControl
	Decisions DecisionPublisher
	Validator auth.TokenValidator
	Gatherer  prometheus.Gatherer
}

type Server struct {
	router *chi.Mux
	deps   Deps
	logger *zap.Logger
}

func NewServer(deps Deps, logger *zap.Logger) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{router: chi.NewRouter(), deps: deps, logger: logger.Named("admin-api")}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Инфраструктурные middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	// --- 3. Защищенный периметр (RS256) ---
	r.Route("/v1", func(r chi.Router) {
		if s.deps.Validator == nil {
			r.HandleFunc("/*", func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "operator auth is not configured", http.StatusServiceUnavailable)
			})
			return
		}
		r.Use(auth.NewMiddleware(s.deps.Validator, s.logger))

		r.With(auth.RequireScope(ScopeSchedulerRead)).Get("/scheduler/status", s.schedulerStatus)
		r.With(auth.RequireScope(ScopeSchedulerRead)).Get("/tenants/sandbox", s.listSandbox)
		r.With(auth.RequireScope(ScopeSandboxWrite)).Post("/tenants/{id}/sandbox", s.setSandbox)
		r.With(auth.RequireScope(ScopeApprove)).Post("/remediations/{id}/decision", s.decide)
	})
}

// ServeHTTP позволяет использовать Server как http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("trace_id", engine.TraceID(r.Context())))
	})
}
