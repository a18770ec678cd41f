// Package httpapi exposes the read and admin surface of the engine:
// endpoint listings, stats, alerts, manual checks and retention.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/apiwatch/apiwatch/internal/domain"
	"github.com/apiwatch/apiwatch/internal/httpapi/middleware"
	"github.com/apiwatch/apiwatch/internal/registry"
	"github.com/apiwatch/apiwatch/internal/repo"
)

// CheckTrigger runs one manual check through the same pipeline as
// scheduled checks.
type CheckTrigger interface {
	TriggerCheck(ctx context.Context, id domain.EndpointID) (*domain.CheckResult, error)
}

type Config struct {
	Keys           middleware.Keys
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
	AllowedOrigins []string
}

type Server struct {
	log      *zap.Logger
	registry registry.Registry
	results  repo.ResultStore
	alerts   repo.AlertStore
	trigger  CheckTrigger
	cfg      Config
}

func NewServer(
	log *zap.Logger,
	reg registry.Registry,
	results repo.ResultStore,
	alerts repo.AlertStore,
	trigger CheckTrigger,
	cfg Config,
) *Server {
	return &Server{
		log:      log,
		registry: reg,
		results:  results,
		alerts:   alerts,
		trigger:  trigger,
		cfg:      cfg,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsHandler())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// read surface
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.PublicRPM, s.cfg.PublicBurst))
		r.Use(middleware.RequireAny(s.cfg.Keys))

		r.Get("/api/endpoints", s.handleListEndpoints)
		r.Get("/api/endpoints/{id}/stats", s.handleEndpointStats)
		r.Get("/api/endpoints/{id}/results", s.handleEndpointResults)
		r.Get("/api/alerts", s.handleListAlerts)
		r.Get("/api/overview", s.handleOverview)
	})

	// admin surface
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.AdminRPM, s.cfg.AdminBurst))
		r.Use(middleware.RequireAdmin(s.cfg.Keys))

		r.Post("/api/endpoints/{id}/check", s.handleTriggerCheck)
		r.Post("/api/alerts/{id}/resolve", s.handleResolveAlert)
		r.Post("/api/admin/purge", s.handlePurge)
	})

	return r
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	if len(s.cfg.AllowedOrigins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "X-API-Key", "Content-Type"},
		MaxAge:         300,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response_encode_error", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, msg string) {
	s.respondJSON(w, code, map[string]string{"error": msg})
}
