package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/apiwatch/apiwatch/internal/domain"
	"github.com/apiwatch/apiwatch/internal/repo"
)

var _ repo.ResultStore = (*Store)(nil)
var _ repo.AlertStore = (*Store)(nil)

// Store keeps results and alerts in process memory. It backs dev runs
// without a database and the unit tests.
type Store struct {
	mu        sync.RWMutex
	nextRes   int64
	nextAlert int64
	results   []*domain.CheckResult
	alerts    []*domain.Alert
}

func New() *Store {
	return &Store{
		results: make([]*domain.CheckResult, 0, 128),
	}
}

// ---- ResultStore ----

func (m *Store) Record(ctx context.Context, r *domain.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now().UTC()
	}
	m.nextRes++
	r.ID = m.nextRes
	cp := *r
	m.results = append(m.results, &cp)
	return nil
}

func (m *Store) Recent(ctx context.Context, id domain.EndpointID, window time.Duration) ([]domain.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	since := time.Now().UTC().Add(-window)
	out := make([]domain.CheckResult, 0, 32)
	for _, r := range m.results {
		if r.EndpointID == id && !r.CheckedAt.Before(since) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckedAt.After(out[j].CheckedAt) })
	return out, nil
}

func (m *Store) Aggregate(ctx context.Context, id domain.EndpointID, window time.Duration) (domain.CheckStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	since := time.Now().UTC().Add(-window)
	var rs []*domain.CheckResult
	for _, r := range m.results {
		if r.EndpointID == id && !r.CheckedAt.Before(since) {
			rs = append(rs, r)
		}
	}
	return statsOf(rs), nil
}

func (m *Store) AggregateAll(ctx context.Context, window time.Duration) (domain.CheckStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	since := time.Now().UTC().Add(-window)
	var rs []*domain.CheckResult
	for _, r := range m.results {
		if !r.CheckedAt.Before(since) {
			rs = append(rs, r)
		}
	}
	return statsOf(rs), nil
}

func (m *Store) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	kept := m.results[:0]
	var deleted int64
	for _, r := range m.results {
		if r.CheckedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.results = kept
	return deleted, nil
}

func (m *Store) LastCheckTimes(ctx context.Context) (map[domain.EndpointID]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.EndpointID]time.Time, 16)
	for _, r := range m.results {
		if cur, ok := out[r.EndpointID]; !ok || r.CheckedAt.After(cur) {
			out[r.EndpointID] = r.CheckedAt
		}
	}
	return out, nil
}

func statsOf(rs []*domain.CheckResult) domain.CheckStats {
	st := domain.CheckStats{TotalChecks: len(rs)}
	if st.TotalChecks == 0 {
		return st
	}

	successes := 0
	var lat []float64
	for _, r := range rs {
		if r.Verdict == domain.VerdictSuccess {
			successes++
		}
		if r.ResponseTimeMS != nil {
			lat = append(lat, *r.ResponseTimeMS)
		}
	}

	rate := round2(float64(successes) / float64(st.TotalChecks) * 100)
	st.SuccessRate = &rate
	st.ErrorCount = st.TotalChecks - successes

	if len(lat) > 0 {
		sum, lo, hi := 0.0, lat[0], lat[0]
		for _, v := range lat {
			sum += v
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		avg := round2(sum / float64(len(lat)))
		lo, hi = round2(lo), round2(hi)
		st.AvgLatencyMS, st.MinLatencyMS, st.MaxLatencyMS = &avg, &lo, &hi
	}
	return st
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ---- AlertStore ----

func (m *Store) CreateIfAbsent(ctx context.Context, a *domain.Alert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.alerts {
		if ex.EndpointID == a.EndpointID && ex.Type == a.Type && !ex.Resolved {
			return false, nil
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.nextAlert++
	a.ID = m.nextAlert
	cp := *a
	m.alerts = append(m.alerts, &cp)
	return true, nil
}

func (m *Store) ResolveOpen(ctx context.Context, id domain.EndpointID, at time.Time, types ...domain.AlertType) ([]domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed []domain.Alert
	for _, ex := range m.alerts {
		if ex.EndpointID != id || ex.Resolved || !hasType(types, ex.Type) {
			continue
		}
		ex.Resolved = true
		t := at
		ex.ResolvedAt = &t
		changed = append(changed, *ex)
	}
	return changed, nil
}

func (m *Store) Resolve(ctx context.Context, alertID int64, at time.Time) (*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.alerts {
		if ex.ID != alertID {
			continue
		}
		if !ex.Resolved {
			ex.Resolved = true
			t := at
			ex.ResolvedAt = &t
		}
		cp := *ex
		return &cp, nil
	}
	return nil, nil
}

func (m *Store) MarkNotified(ctx context.Context, alertID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.alerts {
		if ex.ID == alertID {
			ex.Notified = true
			return nil
		}
	}
	return nil
}

func (m *Store) ListRecent(ctx context.Context, resolved *bool, limit int) ([]domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = repo.DefaultListLimit
	}
	out := make([]domain.Alert, 0, 16)
	for _, ex := range m.alerts {
		if resolved != nil && ex.Resolved != *resolved {
			continue
		}
		out = append(out, *ex)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListUnnotified(ctx context.Context, limit int) ([]domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = repo.DefaultListLimit
	}
	out := make([]domain.Alert, 0, 16)
	for _, ex := range m.alerts {
		if ex.Notified || ex.Resolved {
			continue
		}
		out = append(out, *ex)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) CountOpen(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ex := range m.alerts {
		if !ex.Resolved {
			n++
		}
	}
	return n, nil
}

func hasType(types []domain.AlertType, t domain.AlertType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
