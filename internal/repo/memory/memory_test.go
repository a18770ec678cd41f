package memory

import (
	"context"
	"testing"
	"time"

	"github.com/apiwatch/apiwatch/internal/domain"
)

func intPtr(v int) *int         { return &v }
func f64Ptr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool      { return &v }

func record(t *testing.T, s *Store, r domain.CheckResult) domain.CheckResult {
	t.Helper()
	if err := s.Record(context.Background(), &r); err != nil {
		t.Fatalf("Record: %v", err)
	}
	return r
}

func TestStore_RecordAndRecent_NewestFirstWithinWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	old := record(t, s, domain.CheckResult{
		EndpointID: "ep-1", CheckedAt: now.Add(-3 * time.Hour), Verdict: domain.VerdictSuccess,
	})
	mid := record(t, s, domain.CheckResult{
		EndpointID: "ep-1", CheckedAt: now.Add(-30 * time.Minute), Verdict: domain.VerdictServerError,
	})
	newest := record(t, s, domain.CheckResult{
		EndpointID: "ep-1", CheckedAt: now.Add(-1 * time.Minute), Verdict: domain.VerdictSuccess,
	})
	record(t, s, domain.CheckResult{
		EndpointID: "ep-other", CheckedAt: now, Verdict: domain.VerdictSuccess,
	})

	if old.ID == 0 || mid.ID == 0 || newest.ID == 0 {
		t.Fatalf("expected IDs assigned")
	}

	got, err := s.Recent(ctx, "ep-1", time.Hour)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results inside window, got %d", len(got))
	}
	if got[0].ID != newest.ID || got[1].ID != mid.ID {
		t.Fatalf("expected newest first, got %v then %v", got[0].ID, got[1].ID)
	}
}

func TestStore_Aggregate_Math(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	// two successes (100ms, 200ms), one server error with latency 300ms,
	// one connection error with no latency at all
	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now, Verdict: domain.VerdictSuccess, StatusCode: intPtr(200), ResponseTimeMS: f64Ptr(100)})
	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now, Verdict: domain.VerdictSuccess, StatusCode: intPtr(200), ResponseTimeMS: f64Ptr(200)})
	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now, Verdict: domain.VerdictServerError, StatusCode: intPtr(503), ResponseTimeMS: f64Ptr(300)})
	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now, Verdict: domain.VerdictConnectionError})

	st, err := s.Aggregate(ctx, "ep-1", time.Hour)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if st.TotalChecks != 4 || st.ErrorCount != 2 {
		t.Fatalf("counts wrong: %+v", st)
	}
	if st.SuccessRate == nil || *st.SuccessRate != 50 {
		t.Fatalf("success rate wrong: %v", st.SuccessRate)
	}
	if st.AvgLatencyMS == nil || *st.AvgLatencyMS != 200 {
		t.Fatalf("avg latency wrong: %v", st.AvgLatencyMS)
	}
	if st.MinLatencyMS == nil || *st.MinLatencyMS != 100 {
		t.Fatalf("min latency wrong: %v", st.MinLatencyMS)
	}
	if st.MaxLatencyMS == nil || *st.MaxLatencyMS != 300 {
		t.Fatalf("max latency wrong: %v", st.MaxLatencyMS)
	}
}

func TestStore_Aggregate_SuccessRateRounded(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	// 1 of 3 → 33.333... must round to 33.33
	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now, Verdict: domain.VerdictSuccess})
	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now, Verdict: domain.VerdictTimeout})
	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now, Verdict: domain.VerdictTimeout})

	st, err := s.Aggregate(ctx, "ep-1", time.Hour)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if st.SuccessRate == nil || *st.SuccessRate != 33.33 {
		t.Fatalf("want 33.33, got %v", st.SuccessRate)
	}
}

func TestStore_Aggregate_EmptyWindowHasNullRate(t *testing.T) {
	st, err := New().Aggregate(context.Background(), "ep-1", time.Hour)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if st.TotalChecks != 0 {
		t.Fatalf("expected no checks, got %d", st.TotalChecks)
	}
	if st.SuccessRate != nil {
		t.Fatalf("empty window must have nil success rate, got %v", *st.SuccessRate)
	}
	if st.AvgLatencyMS != nil || st.MinLatencyMS != nil || st.MaxLatencyMS != nil {
		t.Fatalf("empty window must have nil latency stats: %+v", st)
	}
}

func TestStore_Aggregate_AllNullLatenciesStayNull(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now, Verdict: domain.VerdictConnectionError})
	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now, Verdict: domain.VerdictConnectionError})

	st, err := s.Aggregate(ctx, "ep-1", time.Hour)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if st.TotalChecks != 2 || st.SuccessRate == nil || *st.SuccessRate != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.AvgLatencyMS != nil {
		t.Fatalf("latency stats must stay nil without samples, got %v", *st.AvgLatencyMS)
	}
}

func TestStore_AggregateAll_SpansEndpoints(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now, Verdict: domain.VerdictSuccess})
	record(t, s, domain.CheckResult{EndpointID: "ep-2", CheckedAt: now, Verdict: domain.VerdictTimeout})

	st, err := s.AggregateAll(ctx, time.Hour)
	if err != nil {
		t.Fatalf("AggregateAll: %v", err)
	}
	if st.TotalChecks != 2 || st.ErrorCount != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestStore_PurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now.AddDate(0, 0, -40), Verdict: domain.VerdictSuccess})
	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now.AddDate(0, 0, -31), Verdict: domain.VerdictSuccess})
	keep := record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now.AddDate(0, 0, -5), Verdict: domain.VerdictSuccess})

	n, err := s.PurgeOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}

	got, err := s.Recent(ctx, "ep-1", 365*24*time.Hour)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].ID != keep.ID {
		t.Fatalf("wrong survivor: %+v", got)
	}
}

func TestStore_LastCheckTimes(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now.Add(-2 * time.Hour), Verdict: domain.VerdictSuccess})
	record(t, s, domain.CheckResult{EndpointID: "ep-1", CheckedAt: now.Add(-1 * time.Hour), Verdict: domain.VerdictSuccess})
	record(t, s, domain.CheckResult{EndpointID: "ep-2", CheckedAt: now.Add(-10 * time.Minute), Verdict: domain.VerdictTimeout})

	last, err := s.LastCheckTimes(ctx)
	if err != nil {
		t.Fatalf("LastCheckTimes: %v", err)
	}
	if len(last) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(last))
	}
	if !last["ep-1"].Equal(now.Add(-1 * time.Hour)) {
		t.Fatalf("ep-1 last wrong: %v", last["ep-1"])
	}
}

func TestStore_CreateIfAbsent_Dedup(t *testing.T) {
	ctx := context.Background()
	s := New()

	a1 := &domain.Alert{EndpointID: "ep-1", Type: domain.AlertDowntime, Message: "API returned status 503"}
	created, err := s.CreateIfAbsent(ctx, a1)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	if a1.ID == 0 {
		t.Fatalf("expected alert ID assigned")
	}

	// same (endpoint, type) while unresolved → suppressed
	a2 := &domain.Alert{EndpointID: "ep-1", Type: domain.AlertDowntime, Message: "API returned status 503"}
	created, err = s.CreateIfAbsent(ctx, a2)
	if err != nil || created {
		t.Fatalf("duplicate must be suppressed: created=%v err=%v", created, err)
	}

	// a different type is its own condition
	a3 := &domain.Alert{EndpointID: "ep-1", Type: domain.AlertHighLatency, Message: "slow"}
	if created, err = s.CreateIfAbsent(ctx, a3); err != nil || !created {
		t.Fatalf("different type should create: created=%v err=%v", created, err)
	}

	open, err := s.ListRecent(ctx, boolPtr(false), 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected exactly 2 open alerts, got %d", len(open))
	}
}

func TestStore_CreateIfAbsent_AfterResolveCreatesFresh(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := &domain.Alert{EndpointID: "ep-1", Type: domain.AlertDowntime, Message: "down"}
	if _, err := s.CreateIfAbsent(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.ResolveOpen(ctx, "ep-1", time.Now().UTC(), domain.AlertDowntime); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	again := &domain.Alert{EndpointID: "ep-1", Type: domain.AlertDowntime, Message: "down again"}
	created, err := s.CreateIfAbsent(ctx, again)
	if err != nil || !created {
		t.Fatalf("resolved alert must not suppress a new one: created=%v err=%v", created, err)
	}
}

func TestStore_ResolveOpen_OnlyNamedTypes(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	down := &domain.Alert{EndpointID: "ep-1", Type: domain.AlertDowntime, Message: "down"}
	slow := &domain.Alert{EndpointID: "ep-1", Type: domain.AlertHighLatency, Message: "slow"}
	s.CreateIfAbsent(ctx, down)
	s.CreateIfAbsent(ctx, slow)

	changed, err := s.ResolveOpen(ctx, "ep-1", now, domain.AlertDowntime, domain.AlertConnectionError)
	if err != nil {
		t.Fatalf("ResolveOpen: %v", err)
	}
	if len(changed) != 1 || changed[0].ID != down.ID {
		t.Fatalf("expected only the downtime alert resolved, got %+v", changed)
	}
	if !changed[0].Resolved || changed[0].ResolvedAt == nil || !changed[0].ResolvedAt.Equal(now) {
		t.Fatalf("resolution fields wrong: %+v", changed[0])
	}

	// second pass finds nothing left to change
	changed, err = s.ResolveOpen(ctx, "ep-1", now, domain.AlertDowntime)
	if err != nil || len(changed) != 0 {
		t.Fatalf("expected no further changes, got %v err=%v", changed, err)
	}
}

func TestStore_ResolveByID(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	a := &domain.Alert{EndpointID: "ep-1", Type: domain.AlertDowntime, Message: "down"}
	s.CreateIfAbsent(ctx, a)

	got, err := s.Resolve(ctx, a.ID, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got == nil || !got.Resolved || got.ResolvedAt == nil {
		t.Fatalf("expected resolved alert, got %+v", got)
	}

	// idempotent: resolved_at unchanged on the second call
	later := now.Add(time.Hour)
	got2, err := s.Resolve(ctx, a.ID, later)
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if !got2.ResolvedAt.Equal(now) {
		t.Fatalf("resolved_at must not move: %v", got2.ResolvedAt)
	}

	// unknown id → nil, nil
	missing, err := s.Resolve(ctx, 9999, now)
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for unknown id, got %+v err=%v", missing, err)
	}
}

func TestStore_ListUnnotifiedAndMarkNotified(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	first := &domain.Alert{EndpointID: "ep-1", Type: domain.AlertDowntime, Message: "down", CreatedAt: now.Add(-2 * time.Minute)}
	second := &domain.Alert{EndpointID: "ep-2", Type: domain.AlertDowntime, Message: "down", CreatedAt: now.Add(-1 * time.Minute)}
	resolved := &domain.Alert{EndpointID: "ep-3", Type: domain.AlertDowntime, Message: "down", CreatedAt: now}
	s.CreateIfAbsent(ctx, first)
	s.CreateIfAbsent(ctx, second)
	s.CreateIfAbsent(ctx, resolved)
	s.ResolveOpen(ctx, "ep-3", now, domain.AlertDowntime)

	got, err := s.ListUnnotified(ctx, 0)
	if err != nil {
		t.Fatalf("ListUnnotified: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unnotified open alerts, got %d", len(got))
	}
	if got[0].ID != first.ID {
		t.Fatalf("expected oldest first, got %v", got[0].ID)
	}

	if err := s.MarkNotified(ctx, first.ID); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	got, err = s.ListUnnotified(ctx, 0)
	if err != nil {
		t.Fatalf("ListUnnotified: %v", err)
	}
	if len(got) != 1 || got[0].ID != second.ID {
		t.Fatalf("notified alert still listed: %+v", got)
	}
}

func TestStore_CountOpen(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	s.CreateIfAbsent(ctx, &domain.Alert{EndpointID: "ep-1", Type: domain.AlertDowntime, Message: "down"})
	s.CreateIfAbsent(ctx, &domain.Alert{EndpointID: "ep-2", Type: domain.AlertConnectionError, Message: "conn"})
	s.ResolveOpen(ctx, "ep-2", now, domain.AlertConnectionError)

	n, err := s.CountOpen(ctx)
	if err != nil {
		t.Fatalf("CountOpen: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 open alert, got %d", n)
	}
}
