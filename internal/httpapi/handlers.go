package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/apiwatch/apiwatch/internal/domain"
	"github.com/apiwatch/apiwatch/internal/metrics"
	"github.com/apiwatch/apiwatch/internal/repo"
	"github.com/apiwatch/apiwatch/internal/scheduler"
)

const defaultWindowHours = 24

func windowFrom(r *http.Request) (time.Duration, error) {
	q := r.URL.Query().Get("hours")
	if q == "" {
		return defaultWindowHours * time.Hour, nil
	}
	h, err := strconv.Atoi(q)
	if err != nil || h <= 0 {
		return 0, errors.New("hours must be a positive integer")
	}
	return time.Duration(h) * time.Hour, nil
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.registry.ListAll(r.Context())
	if err != nil {
		s.log.Warn("endpoint_list_error", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "list error")
		return
	}
	s.respondJSON(w, http.StatusOK, eps)
}

func (s *Server) handleEndpointStats(w http.ResponseWriter, r *http.Request) {
	id := domain.EndpointID(chi.URLParam(r, "id"))
	ep, err := s.registry.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "lookup error")
		return
	}
	if ep == nil {
		s.respondError(w, http.StatusNotFound, "unknown endpoint")
		return
	}
	window, err := windowFrom(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.results.Aggregate(r.Context(), id, window)
	if err != nil {
		s.log.Warn("stats_error", zap.String("endpoint_id", string(id)), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "stats error")
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEndpointResults(w http.ResponseWriter, r *http.Request) {
	id := domain.EndpointID(chi.URLParam(r, "id"))
	ep, err := s.registry.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "lookup error")
		return
	}
	if ep == nil {
		s.respondError(w, http.StatusNotFound, "unknown endpoint")
		return
	}
	window, err := windowFrom(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.results.Recent(r.Context(), id, window)
	if err != nil {
		s.log.Warn("results_error", zap.String("endpoint_id", string(id)), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "results error")
		return
	}
	s.respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	switch q := r.URL.Query().Get("resolved"); q {
	case "":
	case "true", "false":
		b := q == "true"
		resolved = &b
	default:
		s.respondError(w, http.StatusBadRequest, "resolved must be true or false")
		return
	}

	alerts, err := s.alerts.ListRecent(r.Context(), resolved, repo.DefaultListLimit)
	if err != nil {
		s.log.Warn("alert_list_error", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "list error")
		return
	}
	s.respondJSON(w, http.StatusOK, alerts)
}

type overview struct {
	TotalEndpoints  int      `json:"total_endpoints"`
	ActiveEndpoints int      `json:"active_endpoints"`
	OpenAlerts      int      `json:"unresolved_alerts"`
	ChecksLast24h   int      `json:"total_checks_24h"`
	SuccessRate     *float64 `json:"success_rate_24h"`
	AvgLatencyMS    *float64 `json:"avg_response_time_24h"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	eps, err := s.registry.ListAll(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "overview error")
		return
	}
	stats, err := s.results.AggregateAll(r.Context(), defaultWindowHours*time.Hour)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "overview error")
		return
	}
	open, err := s.alerts.CountOpen(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "overview error")
		return
	}

	active := 0
	for _, ep := range eps {
		if ep.Active {
			active++
		}
	}
	s.respondJSON(w, http.StatusOK, overview{
		TotalEndpoints:  len(eps),
		ActiveEndpoints: active,
		OpenAlerts:      open,
		ChecksLast24h:   stats.TotalChecks,
		SuccessRate:     stats.SuccessRate,
		AvgLatencyMS:    stats.AvgLatencyMS,
	})
}

func (s *Server) handleTriggerCheck(w http.ResponseWriter, r *http.Request) {
	id := domain.EndpointID(chi.URLParam(r, "id"))

	res, err := s.trigger.TriggerCheck(r.Context(), id)
	switch {
	case errors.Is(err, scheduler.ErrUnknownEndpoint):
		s.respondError(w, http.StatusNotFound, "unknown endpoint")
		return
	case errors.Is(err, scheduler.ErrCheckInFlight):
		s.respondError(w, http.StatusConflict, "check already in flight")
		return
	case errors.Is(err, scheduler.ErrInvalidEndpoint):
		s.respondError(w, http.StatusUnprocessableEntity, "endpoint config invalid")
		return
	case err != nil:
		s.log.Warn("manual_check_error", zap.String("endpoint_id", string(id)), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "check failed")
		return
	}

	s.log.Info("manual_check",
		zap.String("endpoint_id", string(id)),
		zap.String("verdict", string(res.Verdict)),
	)
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	a, err := s.alerts.Resolve(r.Context(), alertID, time.Now().UTC())
	if err != nil {
		s.log.Warn("alert_resolve_error", zap.Int64("alert_id", alertID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "resolve failed")
		return
	}
	if a == nil {
		s.respondError(w, http.StatusNotFound, "unknown alert")
		return
	}

	metrics.AlertsResolved.WithLabelValues(string(a.Type)).Inc()
	s.log.Info("alert_resolved_manually",
		zap.Int64("alert_id", alertID),
		zap.String("alert_type", string(a.Type)),
	)
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("days")
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "days required")
		return
	}
	days, err := strconv.Atoi(q)
	if err != nil || days <= 0 {
		s.respondError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}

	n, err := s.results.PurgeOlderThan(r.Context(), days)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("purge").Inc()
		s.log.Warn("purge_error", zap.Int("days", days), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "purge failed")
		return
	}

	metrics.ResultsPurged.Add(float64(n))
	s.log.Info("history_purged", zap.Int64("deleted", n), zap.Int("days", days))
	s.respondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
