package registry

import (
	"context"
	"time"

	"github.com/apiwatch/apiwatch/internal/domain"
)

// Registry publishes the monitored endpoints. The engine reads snapshots;
// creating, editing and deleting endpoints belongs to whoever manages the
// backing source.
type Registry interface {
	// ListActive returns the endpoints that should be scheduled.
	ListActive(ctx context.Context) ([]domain.Endpoint, error)

	// ListAll returns every endpoint, active or not.
	ListAll(ctx context.Context) ([]domain.Endpoint, error)

	// Get returns one endpoint by id, nil when unknown.
	Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error)
}

// Defaults fill endpoint fields the source leaves unset.
type Defaults struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (d Defaults) apply(ep *domain.Endpoint) {
	if ep.Method == "" {
		ep.Method = "GET"
	}
	if ep.Interval <= 0 {
		ep.Interval = d.Interval
	}
	if ep.Timeout <= 0 {
		ep.Timeout = d.Timeout
	}
}
