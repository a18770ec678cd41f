package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/apiwatch/apiwatch/internal/domain"
	"github.com/apiwatch/apiwatch/internal/metrics"
	"github.com/apiwatch/apiwatch/internal/notify"
	"github.com/apiwatch/apiwatch/internal/repo"
)

const resendMaxRetries = 5

type ResenderConfig struct {
	Every time.Duration
	Batch int
}

// Resender periodically re-dispatches alerts whose original
// notification failed, so a down notification channel only delays
// delivery instead of losing it.
type Resender struct {
	alerts   repo.AlertStore
	notifier notify.Notifier
	log      *zap.Logger
	cfg      ResenderConfig
}

func NewResender(alerts repo.AlertStore, notifier notify.Notifier, log *zap.Logger, cfg ResenderConfig) *Resender {
	return &Resender{
		alerts:   alerts,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
	}
}

func (r *Resender) Run(ctx context.Context) error {
	t := time.NewTicker(r.cfg.Every)
	defer t.Stop()

	// initial pass
	_ = r.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			_ = r.sweepOnce(ctx)
		}
	}
}

func (r *Resender) sweepOnce(ctx context.Context) error {
	pending, err := r.alerts.ListUnnotified(ctx, r.cfg.Batch)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("alert_list_unnotified").Inc()
		r.log.Error("resend_list_failed", zap.Error(err))
		return err
	}

	for _, al := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.send(ctx, al); err != nil {
			metrics.NotifyFailures.Inc()
			r.log.Warn("resend_failed",
				zap.Int64("alert_id", al.ID),
				zap.String("endpoint_id", string(al.EndpointID)),
				zap.Error(err),
			)
			continue
		}
		if err := r.alerts.MarkNotified(ctx, al.ID); err != nil {
			metrics.StoreErrors.WithLabelValues("alert_mark_notified").Inc()
			r.log.Error("alert_mark_notified_failed",
				zap.Int64("alert_id", al.ID),
				zap.Error(err),
			)
			continue
		}
		r.log.Info("alert_resent",
			zap.Int64("alert_id", al.ID),
			zap.String("endpoint_id", string(al.EndpointID)),
		)
	}

	if n, err := r.alerts.CountOpen(ctx); err == nil {
		metrics.OpenAlerts.Set(float64(n))
	}
	return nil
}

// send retries one notification with exponential backoff; a sweep
// gives up on an alert after resendMaxRetries attempts and leaves it
// for the next sweep.
func (r *Resender) send(ctx context.Context, al domain.Alert) error {
	op := func() error {
		return r.notifier.Send(ctx, alertTitle(al.Type, string(al.EndpointID)), resendText(al))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, resendMaxRetries), ctx))
}

func resendText(al domain.Alert) string {
	return fmt.Sprintf(
		"Endpoint: %s\n%s\nOpen since: %s",
		al.EndpointID, al.Message, al.CreatedAt.Format(time.RFC3339),
	)
}
