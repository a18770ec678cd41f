package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apiwatch/apiwatch/internal/domain"
)

var _ Registry = (*Postgres)(nil)

// Postgres reads the externally managed endpoints table. Rows are owned by
// whatever tooling provisions them; this side never writes.
type Postgres struct {
	pool     *pgxpool.Pool
	defaults Defaults
}

func NewPostgres(pool *pgxpool.Pool, defaults Defaults) *Postgres {
	return &Postgres{pool: pool, defaults: defaults}
}

const endpointColumns = `id, name, url, method, headers, timeout_sec, interval_sec, latency_threshold_ms, active`

func (p *Postgres) ListActive(ctx context.Context) ([]domain.Endpoint, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active endpoints: %w", err)
	}
	defer rows.Close()
	return p.collect(rows)
}

func (p *Postgres) ListAll(ctx context.Context) ([]domain.Endpoint, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+endpointColumns+` FROM endpoints ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()
	return p.collect(rows)
}

func (p *Postgres) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE id = $1`, string(id))
	ep, err := p.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return ep, nil
}

func (p *Postgres) collect(rows pgx.Rows) ([]domain.Endpoint, error) {
	var out []domain.Endpoint
	for rows.Next() {
		ep, err := p.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

func (p *Postgres) scan(row pgx.Row) (*domain.Endpoint, error) {
	var (
		ep          domain.Endpoint
		id          string
		headersJSON []byte
		timeoutSec  int
		intervalSec int
	)
	if err := row.Scan(&id, &ep.Name, &ep.URL, &ep.Method, &headersJSON,
		&timeoutSec, &intervalSec, &ep.LatencyThresholdMS, &ep.Active); err != nil {
		return nil, err
	}
	ep.ID = domain.EndpointID(id)
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &ep.Headers); err != nil {
			return nil, fmt.Errorf("headers for %s: %w", id, err)
		}
	}
	ep.Timeout = time.Duration(timeoutSec) * time.Second
	ep.Interval = time.Duration(intervalSec) * time.Second
	p.defaults.apply(&ep)
	return &ep, nil
}
