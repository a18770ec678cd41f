package repo

import (
	"context"
	"time"

	"github.com/apiwatch/apiwatch/internal/domain"
)

// AlertStore owns alert rows. The dedup contract lives here: at most one
// unresolved alert per (endpoint, alert type), held even under concurrent
// writers racing on the same pair.
type AlertStore interface {
	// CreateIfAbsent inserts a new unresolved alert unless one of the same
	// (endpoint, type) is already open. Reports whether a row was created;
	// on creation the alert's ID is filled in.
	CreateIfAbsent(ctx context.Context, a *domain.Alert) (bool, error)

	// ResolveOpen resolves the endpoint's open alerts of the given types and
	// returns the ones that changed.
	ResolveOpen(ctx context.Context, id domain.EndpointID, at time.Time, types ...domain.AlertType) ([]domain.Alert, error)

	// Resolve resolves one alert by ID. Returns nil, nil when no such alert
	// exists; resolving an already-resolved alert is a no-op and returns the
	// row unchanged.
	Resolve(ctx context.Context, alertID int64, at time.Time) (*domain.Alert, error)

	// MarkNotified records that the alert's notification went out.
	MarkNotified(ctx context.Context, alertID int64) error

	// ListRecent returns alerts newest first, optionally filtered by
	// resolution state. limit <= 0 applies a default cap.
	ListRecent(ctx context.Context, resolved *bool, limit int) ([]domain.Alert, error)

	// ListUnnotified returns open alerts whose notification never went out,
	// oldest first, for the resend pass.
	ListUnnotified(ctx context.Context, limit int) ([]domain.Alert, error)

	// CountOpen counts unresolved alerts across all endpoints.
	CountOpen(ctx context.Context) (int, error)
}

// DefaultListLimit caps alert listings when the caller does not.
const DefaultListLimit = 100
