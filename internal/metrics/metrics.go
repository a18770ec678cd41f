package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/apiwatch/apiwatch/internal/domain"
)

// Prometheus metrics
var (
	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apiwatch_check_duration_seconds",
			Help:    "Time spent probing endpoints",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "verdict"},
	)

	CheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiwatch_checks_total",
			Help: "Total number of checks executed",
		},
		[]string{"endpoint", "verdict"},
	)

	EndpointUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apiwatch_endpoint_up",
			Help: "Whether the last check of the endpoint succeeded (1) or not (0)",
		},
		[]string{"endpoint"},
	)

	ActiveEndpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apiwatch_active_endpoints",
			Help: "Number of active endpoints in the current registry snapshot",
		},
	)

	ChecksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apiwatch_checks_in_flight",
			Help: "Checks currently running",
		},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiwatch_alerts_created_total",
			Help: "Alerts created, by type",
		},
		[]string{"alert_type"},
	)

	AlertsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiwatch_alerts_resolved_total",
			Help: "Alerts resolved, by type",
		},
		[]string{"alert_type"},
	)

	OpenAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apiwatch_open_alerts",
			Help: "Unresolved alerts across all endpoints",
		},
	)

	NotifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apiwatch_notification_failures_total",
			Help: "Notification dispatch attempts that failed",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiwatch_store_errors_total",
			Help: "Storage operations that failed",
		},
		[]string{"operation"},
	)

	ResultsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apiwatch_results_purged_total",
			Help: "Check results deleted by retention",
		},
	)
)

// RecordCheck updates the per-check series after a pipeline run.
func RecordCheck(id domain.EndpointID, verdict domain.Verdict, latencyMS *float64) {
	ep := string(id)
	CheckTotal.WithLabelValues(ep, string(verdict)).Inc()
	if latencyMS != nil {
		CheckDuration.WithLabelValues(ep, string(verdict)).Observe(*latencyMS / 1000)
	}
	up := 0.0
	if verdict == domain.VerdictSuccess {
		up = 1
	}
	EndpointUp.WithLabelValues(ep).Set(up)
}
