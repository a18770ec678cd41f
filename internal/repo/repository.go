package repo

import (
	"context"
	"time"

	"github.com/apiwatch/apiwatch/internal/domain"
)

// Ports (interfaces) — swap in any DB adapter later.

// ResultStore persists check outcomes. Rows are append-only: recorded,
// queried, eventually purged, never updated.
type ResultStore interface {
	// Record appends one outcome and fills in the assigned ID.
	Record(ctx context.Context, r *domain.CheckResult) error

	// Recent returns the endpoint's results inside the window, newest first.
	Recent(ctx context.Context, id domain.EndpointID, window time.Duration) ([]domain.CheckResult, error)

	// Aggregate computes stats over the window for one endpoint.
	Aggregate(ctx context.Context, id domain.EndpointID, window time.Duration) (domain.CheckStats, error)

	// AggregateAll computes the same stats across every endpoint.
	AggregateAll(ctx context.Context, window time.Duration) (domain.CheckStats, error)

	// PurgeOlderThan deletes results older than the given day count and
	// reports how many rows went away.
	PurgeOlderThan(ctx context.Context, days int) (int64, error)

	// LastCheckTimes returns the newest checked_at per endpoint, used to
	// rebuild the schedule after a restart.
	LastCheckTimes(ctx context.Context) (map[domain.EndpointID]time.Time, error)
}
