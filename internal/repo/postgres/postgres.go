package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/apiwatch/apiwatch/internal/domain"
	"github.com/apiwatch/apiwatch/internal/repo"
)

var _ repo.ResultStore = (*Store)(nil)
var _ repo.AlertStore = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the connection pool so sibling adapters (the endpoint
// registry) can share it instead of opening a second one.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// ---- ResultStore ----

func (s *Store) Record(ctx context.Context, r *domain.CheckResult) error {
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO check_results
		   (endpoint_id, checked_at, status_code, response_time_ms, verdict, error_message, response_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		string(r.EndpointID), r.CheckedAt, r.StatusCode, r.ResponseTimeMS,
		string(r.Verdict), nullString(r.Error), r.ResponseBytes,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert check result: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, id domain.EndpointID, window time.Duration) ([]domain.CheckResult, error) {
	since := time.Now().UTC().Add(-window)
	rows, err := s.pool.Query(ctx,
		`SELECT id, endpoint_id, checked_at, status_code, response_time_ms, verdict, error_message, response_bytes
		   FROM check_results
		  WHERE endpoint_id = $1 AND checked_at >= $2
		  ORDER BY checked_at DESC, id DESC`,
		string(id), since)
	if err != nil {
		return nil, fmt.Errorf("recent results: %w", err)
	}
	defer rows.Close()

	var out []domain.CheckResult
	for rows.Next() {
		var (
			r       domain.CheckResult
			epID    string
			verdict string
			errMsg  *string
		)
		if err := rows.Scan(&r.ID, &epID, &r.CheckedAt, &r.StatusCode, &r.ResponseTimeMS, &verdict, &errMsg, &r.ResponseBytes); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.EndpointID = domain.EndpointID(epID)
		r.Verdict = domain.Verdict(verdict)
		if errMsg != nil {
			r.Error = *errMsg
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Aggregate(ctx context.Context, id domain.EndpointID, window time.Duration) (domain.CheckStats, error) {
	since := time.Now().UTC().Add(-window)
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE verdict = 'success'),
		        AVG(response_time_ms),
		        MIN(response_time_ms),
		        MAX(response_time_ms)
		   FROM check_results
		  WHERE endpoint_id = $1 AND checked_at >= $2`,
		string(id), since)
	return scanStats(row)
}

func (s *Store) AggregateAll(ctx context.Context, window time.Duration) (domain.CheckStats, error) {
	since := time.Now().UTC().Add(-window)
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE verdict = 'success'),
		        AVG(response_time_ms),
		        MIN(response_time_ms),
		        MAX(response_time_ms)
		   FROM check_results
		  WHERE checked_at >= $1`,
		since)
	return scanStats(row)
}

func (s *Store) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM check_results WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) LastCheckTimes(ctx context.Context) (map[domain.EndpointID]time.Time, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT endpoint_id, MAX(checked_at)
		   FROM check_results
		  GROUP BY endpoint_id`)
	if err != nil {
		return nil, fmt.Errorf("last check times: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.EndpointID]time.Time, 16)
	for rows.Next() {
		var (
			id   string
			last time.Time
		)
		if err := rows.Scan(&id, &last); err != nil {
			return nil, fmt.Errorf("scan last check time: %w", err)
		}
		out[domain.EndpointID(id)] = last
	}
	return out, rows.Err()
}

func scanStats(row pgx.Row) (domain.CheckStats, error) {
	var (
		st          domain.CheckStats
		total       int64
		successes   int64
		avg, lo, hi *float64
	)
	if err := row.Scan(&total, &successes, &avg, &lo, &hi); err != nil {
		return st, fmt.Errorf("scan stats: %w", err)
	}
	st.TotalChecks = int(total)
	if total == 0 {
		return st, nil
	}
	rate := round2(float64(successes) / float64(total) * 100)
	st.SuccessRate = &rate
	st.ErrorCount = int(total - successes)
	if avg != nil {
		a, l, h := round2(*avg), round2(*lo), round2(*hi)
		st.AvgLatencyMS, st.MinLatencyMS, st.MaxLatencyMS = &a, &l, &h
	}
	return st, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
