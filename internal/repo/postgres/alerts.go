package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/apiwatch/apiwatch/internal/domain"
	"github.com/apiwatch/apiwatch/internal/repo"
)

const alertColumns = `id, endpoint_id, alert_type, message, created_at, resolved, resolved_at, notified`

// CreateIfAbsent leans on the partial unique index over open alerts
// (ux_alerts_open); a concurrent duplicate loses the insert race and
// reports created=false instead of erroring.
func (s *Store) CreateIfAbsent(ctx context.Context, a *domain.Alert) (bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO alerts (endpoint_id, alert_type, message, created_at, resolved, notified)
		 VALUES ($1, $2, $3, $4, FALSE, FALSE)
		 ON CONFLICT (endpoint_id, alert_type) WHERE NOT resolved
		 DO NOTHING
		 RETURNING id`,
		string(a.EndpointID), string(a.Type), a.Message, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// conflict with an existing open alert; nothing inserted
			return false, nil
		}
		return false, fmt.Errorf("insert alert: %w", err)
	}
	return true, nil
}

func (s *Store) ResolveOpen(ctx context.Context, id domain.EndpointID, at time.Time, types ...domain.AlertType) ([]domain.Alert, error) {
	if len(types) == 0 {
		return nil, nil
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE alerts
		    SET resolved = TRUE, resolved_at = $2
		  WHERE endpoint_id = $1 AND NOT resolved AND alert_type = ANY($3)
		 RETURNING `+alertColumns,
		string(id), at, names)
	if err != nil {
		return nil, fmt.Errorf("resolve open alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) Resolve(ctx context.Context, alertID int64, at time.Time) (*domain.Alert, error) {
	// COALESCE keeps the original resolution time on repeat calls.
	row := s.pool.QueryRow(ctx,
		`UPDATE alerts
		    SET resolved = TRUE, resolved_at = COALESCE(resolved_at, $2)
		  WHERE id = $1
		 RETURNING `+alertColumns,
		alertID, at)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (s *Store) MarkNotified(ctx context.Context, alertID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alerts SET notified = TRUE WHERE id = $1`, alertID)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, resolved *bool, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = repo.DefaultListLimit
	}
	var (
		rows pgx.Rows
		err  error
	)
	if resolved == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+alertColumns+`
			   FROM alerts
			  ORDER BY created_at DESC, id DESC
			  LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+alertColumns+`
			   FROM alerts
			  WHERE resolved = $1
			  ORDER BY created_at DESC, id DESC
			  LIMIT $2`, *resolved, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (s *Store) ListUnnotified(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = repo.DefaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertColumns+`
		   FROM alerts
		  WHERE NOT notified AND NOT resolved
		  ORDER BY created_at ASC, id ASC
		  LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unnotified alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (s *Store) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE NOT resolved`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open alerts: %w", err)
	}
	return n, nil
}

func collectAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	var out []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var (
		a     domain.Alert
		epID  string
		atype string
	)
	if err := row.Scan(&a.ID, &epID, &atype, &a.Message, &a.CreatedAt, &a.Resolved, &a.ResolvedAt, &a.Notified); err != nil {
		return nil, err
	}
	a.EndpointID = domain.EndpointID(epID)
	a.Type = domain.AlertType(atype)
	return &a, nil
}
