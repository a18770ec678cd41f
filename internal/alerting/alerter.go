// Package alerting turns classified check outcomes into deduplicated
// alerts and best-effort notifications.
package alerting

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apiwatch/apiwatch/internal/domain"
	"github.com/apiwatch/apiwatch/internal/metrics"
	"github.com/apiwatch/apiwatch/internal/notify"
	"github.com/apiwatch/apiwatch/internal/repo"
)

type Config struct {
	NotificationsEnabled bool
	NotifyOnResolve      bool
}

// Alerter owns the evaluate step of the check pipeline: resolving open
// alerts on recovery, creating at most one open alert per
// (endpoint, alert_type), and dispatching notifications.
type Alerter struct {
	alerts   repo.AlertStore
	notifier notify.Notifier
	log      *zap.Logger
	cfg      Config
}

func New(alerts repo.AlertStore, notifier notify.Notifier, log *zap.Logger, cfg Config) *Alerter {
	return &Alerter{
		alerts:   alerts,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
	}
}

// Evaluate applies the alert rules to one recorded check result. The
// returned error covers alert-store failures only; a notification
// dispatch failure leaves the alert persisted with notified=false and
// is never propagated.
func (a *Alerter) Evaluate(ctx context.Context, ep domain.Endpoint, r domain.CheckResult, alertWorthy bool, thresholdMS float64) error {
	if r.Verdict == domain.VerdictSuccess {
		if err := a.resolveOnSuccess(ctx, ep, r, alertWorthy); err != nil {
			return err
		}
	}
	if !alertWorthy {
		return nil
	}

	typ, ok := domain.AlertTypeFor(r.Verdict)
	if !ok {
		a.log.Error("alert_type_unknown_verdict",
			zap.String("endpoint_id", string(ep.ID)),
			zap.String("verdict", string(r.Verdict)),
		)
		return nil
	}

	alert := &domain.Alert{
		EndpointID: ep.ID,
		Type:       typ,
		Message:    alertMessage(r, thresholdMS),
		CreatedAt:  r.CheckedAt,
	}
	created, err := a.alerts.CreateIfAbsent(ctx, alert)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("alert_create").Inc()
		return fmt.Errorf("create alert: %w", err)
	}
	if !created {
		// An unresolved alert of this type is already open; stay quiet.
		a.log.Debug("alert_suppressed",
			zap.String("endpoint_id", string(ep.ID)),
			zap.String("alert_type", string(typ)),
		)
		return nil
	}

	metrics.AlertsCreated.WithLabelValues(string(typ)).Inc()
	a.log.Warn("alert_created",
		zap.String("endpoint_id", string(ep.ID)),
		zap.String("alert_type", string(typ)),
		zap.String("message", alert.Message),
	)

	a.dispatch(ctx, ep, alert)
	return nil
}

// resolveOnSuccess closes open transport alerts whenever a check
// succeeds; high_latency additionally requires the success to have
// stayed under the threshold.
func (a *Alerter) resolveOnSuccess(ctx context.Context, ep domain.Endpoint, r domain.CheckResult, alertWorthy bool) error {
	types := []domain.AlertType{domain.AlertDowntime, domain.AlertConnectionError}
	if !alertWorthy {
		types = append(types, domain.AlertHighLatency)
	}

	resolved, err := a.alerts.ResolveOpen(ctx, ep.ID, r.CheckedAt, types...)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("alert_resolve").Inc()
		return fmt.Errorf("resolve alerts: %w", err)
	}

	for _, al := range resolved {
		metrics.AlertsResolved.WithLabelValues(string(al.Type)).Inc()
		a.log.Info("alert_resolved",
			zap.String("endpoint_id", string(ep.ID)),
			zap.String("alert_type", string(al.Type)),
			zap.Int64("alert_id", al.ID),
		)
		if a.cfg.NotifyOnResolve {
			a.sendRecovery(ctx, ep, al)
		}
	}
	return nil
}

func (a *Alerter) dispatch(ctx context.Context, ep domain.Endpoint, alert *domain.Alert) {
	if !a.cfg.NotificationsEnabled || a.notifier == nil {
		return
	}

	title := alertTitle(alert.Type, ep.Name)
	text := alertText(ep, alert)
	if err := a.notifier.Send(ctx, title, text); err != nil {
		// The alert row is already persisted; the resender picks it up.
		metrics.NotifyFailures.Inc()
		a.log.Warn("notify_failed",
			zap.String("endpoint_id", string(ep.ID)),
			zap.Int64("alert_id", alert.ID),
			zap.Error(err),
		)
		return
	}

	if err := a.alerts.MarkNotified(ctx, alert.ID); err != nil {
		metrics.StoreErrors.WithLabelValues("alert_mark_notified").Inc()
		a.log.Error("alert_mark_notified_failed",
			zap.Int64("alert_id", alert.ID),
			zap.Error(err),
		)
	}
}

func (a *Alerter) sendRecovery(ctx context.Context, ep domain.Endpoint, al domain.Alert) {
	if !a.cfg.NotificationsEnabled || a.notifier == nil {
		return
	}

	title := recoveryTitle(al.Type, ep.Name)
	text := fmt.Sprintf(
		"Endpoint: %s\nURL: %s\nOpen since: %s",
		ep.Name, ep.URL, al.CreatedAt.Format(time.RFC3339),
	)
	if err := a.notifier.Send(ctx, title, text); err != nil {
		metrics.NotifyFailures.Inc()
		a.log.Warn("recovery_notify_failed",
			zap.String("endpoint_id", string(ep.ID)),
			zap.Int64("alert_id", al.ID),
			zap.Error(err),
		)
	}
}

// alertMessage renders the human-readable cause stored on the alert row.
func alertMessage(r domain.CheckResult, thresholdMS float64) string {
	switch r.Verdict {
	case domain.VerdictTimeout:
		return "Request timeout"
	case domain.VerdictConnectionError:
		return "Connection error"
	case domain.VerdictSuccess:
		var ms float64
		if r.ResponseTimeMS != nil {
			ms = *r.ResponseTimeMS
		}
		return fmt.Sprintf("Response time %.0fms exceeds threshold %.0fms", ms, thresholdMS)
	default:
		var code int
		if r.StatusCode != nil {
			code = *r.StatusCode
		}
		return fmt.Sprintf("API returned status %d", code)
	}
}

func alertTitle(typ domain.AlertType, name string) string {
	return fmt.Sprintf("🔴 %s: %s", typ, name)
}

func recoveryTitle(typ domain.AlertType, name string) string {
	return fmt.Sprintf("🟢 %s resolved: %s", typ, name)
}

func alertText(ep domain.Endpoint, alert *domain.Alert) string {
	return fmt.Sprintf(
		"Endpoint: %s\nURL: %s\n%s\nChecked: %s",
		ep.Name, ep.URL, alert.Message, alert.CreatedAt.Format(time.RFC3339),
	)
}
