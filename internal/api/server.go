package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/smellreg/smellreg/internal/compliance"
	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/reference"
)

// Deps are the components the API serves.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Engine    *compliance.Engine
	Recorder  *compliance.Recorder
	Reference *reference.Store

	// Metrics is served at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string

	Version string
}

// Server is the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the routes.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Method(http.MethodGet, path, deps.Metrics)
	}

	// Reference data is shared by every tenant.
	router.Get("/reference", handler.GetReference)
	router.Post("/reference/reload", handler.ReloadReference)

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/check", handler.Check)
		r.Post("/check/async", handler.CheckAsync)
		r.Get("/requests/{id}/report", handler.GetRequestReport)
		r.Get("/reports/{certificate}", handler.GetReport)

		r.Route("/formulas", func(r chi.Router) {
			r.Post("/", handler.CreateFormula)
			r.Get("/", handler.ListFormulas)
			r.Get("/{id}", handler.GetFormula)
			r.Delete("/{id}", handler.DeleteFormula)
			r.Post("/{id}/duplicate", handler.DuplicateFormula)
			r.Post("/{id}/check", handler.CheckFormula)
			r.Get("/{id}/reports", handler.ListFormulaReports)
		})
	})

	return &Server{router: router, handler: handler, config: cfg}
}

// Start serves HTTP until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
