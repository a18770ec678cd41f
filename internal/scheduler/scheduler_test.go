package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/apiwatch/apiwatch/internal/domain"
	"github.com/apiwatch/apiwatch/internal/probe"
	"github.com/apiwatch/apiwatch/internal/repo"
	"github.com/apiwatch/apiwatch/internal/repo/memory"
)

// ---- shared fakes ----

func ep(id string, interval time.Duration) domain.Endpoint {
	return domain.Endpoint{
		ID:       domain.EndpointID(id),
		Name:     id,
		URL:      "https://" + id + ".example.com/health",
		Method:   "GET",
		Timeout:  time.Second,
		Interval: interval,
		Active:   true,
	}
}

type fakeRegistry struct {
	mu  sync.Mutex
	eps []domain.Endpoint
}

func (f *fakeRegistry) ListActive(ctx context.Context) ([]domain.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Endpoint, len(f.eps))
	copy(out, f.eps)
	return out, nil
}

func (f *fakeRegistry) ListAll(ctx context.Context) ([]domain.Endpoint, error) {
	return f.ListActive(ctx)
}

func (f *fakeRegistry) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.eps {
		if e.ID == id {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

type fakeProber struct {
	mu    sync.Mutex
	delay time.Duration
	block chan struct{}
	calls map[domain.EndpointID]int
	out   probe.Outcome
}

func okOutcome() probe.Outcome {
	ms := 42.0
	return probe.Outcome{StatusCode: 200, LatencyMS: &ms, ResponseBytes: 2}
}

func newFakeProber() *fakeProber {
	return &fakeProber{calls: map[domain.EndpointID]int{}, out: okOutcome()}
}

func (f *fakeProber) Probe(ctx context.Context, e domain.Endpoint) probe.Outcome {
	f.mu.Lock()
	f.calls[e.ID]++
	blk := f.block
	delay := f.delay
	out := f.out
	f.mu.Unlock()
	if blk != nil {
		<-blk
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return out
}

func (f *fakeProber) count(id domain.EndpointID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeProber) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeEvaluator struct {
	mu    sync.Mutex
	calls []domain.EndpointID
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, e domain.Endpoint, r domain.CheckResult, alertWorthy bool, thresholdMS float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, e.ID)
	return nil
}

func (f *fakeEvaluator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingResults struct {
	repo.ResultStore
	failFor domain.EndpointID
}

func (f *failingResults) Record(ctx context.Context, r *domain.CheckResult) error {
	if r.EndpointID == f.failFor {
		return errors.New("db down")
	}
	return f.ResultStore.Record(ctx, r)
}

func newTestScheduler(reg *fakeRegistry, rs repo.ResultStore, pr *fakeProber, maxConc int) (*Scheduler, *fakeEvaluator) {
	ev := &fakeEvaluator{}
	s := New(zap.NewNop(), reg, rs, pr, ev, Config{
		Tick:          time.Hour, // passes driven manually
		MaxConcurrent: maxConc,
	})
	return s, ev
}

func record(t *testing.T, st repo.ResultStore, id domain.EndpointID, ago time.Duration) {
	t.Helper()
	ms := 50.0
	code := 200
	r := &domain.CheckResult{
		EndpointID:     id,
		CheckedAt:      time.Now().UTC().Add(-ago),
		StatusCode:     &code,
		ResponseTimeMS: &ms,
		Verdict:        domain.VerdictSuccess,
	}
	if err := st.Record(context.Background(), r); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// ---- tests ----

func TestScheduler_ConcurrencyCap(t *testing.T) {
	reg := &fakeRegistry{eps: []domain.Endpoint{
		ep("a", time.Minute), ep("b", time.Minute), ep("c", time.Minute),
		ep("d", time.Minute), ep("e", time.Minute),
	}}
	pr := newFakeProber()
	pr.delay = 100 * time.Millisecond
	s, _ := newTestScheduler(reg, memory.New(), pr, 2)

	start := time.Now()
	s.runOnce(context.Background())
	s.wg.Wait()
	elapsed := time.Since(start)

	if got := pr.total(); got != 5 {
		t.Fatalf("want 5 checks, got %d", got)
	}
	// 5 checks through 2 slots at 100ms each need 3 serialized batches
	if elapsed < 300*time.Millisecond {
		t.Fatalf("cap not enforced, pass finished in %v", elapsed)
	}
}

func TestScheduler_IntervalDue(t *testing.T) {
	a := ep("a", time.Minute)
	reg := &fakeRegistry{eps: []domain.Endpoint{a}}
	pr := newFakeProber()
	s, _ := newTestScheduler(reg, memory.New(), pr, 2)
	ctx := context.Background()

	// never checked: due immediately
	s.runOnce(ctx)
	s.wg.Wait()
	if pr.count(a.ID) != 1 {
		t.Fatalf("want first check, got %d", pr.count(a.ID))
	}

	// 45s since last check: not due
	s.mu.Lock()
	s.lastRun[a.ID] = time.Now().Add(-45 * time.Second)
	s.mu.Unlock()
	s.runOnce(ctx)
	s.wg.Wait()
	if pr.count(a.ID) != 1 {
		t.Fatalf("checked before the interval elapsed: %d", pr.count(a.ID))
	}

	// 61s since last check: due
	s.mu.Lock()
	s.lastRun[a.ID] = time.Now().Add(-61 * time.Second)
	s.mu.Unlock()
	s.runOnce(ctx)
	s.wg.Wait()
	if pr.count(a.ID) != 2 {
		t.Fatalf("want recheck after interval, got %d", pr.count(a.ID))
	}
}

func TestScheduler_InFlightNeverDoubleDispatched(t *testing.T) {
	a := ep("a", time.Minute)
	reg := &fakeRegistry{eps: []domain.Endpoint{a}}
	pr := newFakeProber()
	pr.block = make(chan struct{})
	s, _ := newTestScheduler(reg, memory.New(), pr, 4)
	ctx := context.Background()

	s.runOnce(ctx)
	waitFor(t, func() bool { return pr.count(a.ID) == 1 })

	// looks due again while the first check still runs
	s.mu.Lock()
	s.lastRun[a.ID] = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()
	s.runOnce(ctx)

	close(pr.block)
	s.wg.Wait()

	if pr.count(a.ID) != 1 {
		t.Fatalf("endpoint dispatched twice while in flight: %d", pr.count(a.ID))
	}
}

func TestScheduler_WarmStartRespectsStoredSchedule(t *testing.T) {
	fresh := ep("fresh", time.Minute)
	stale := ep("stale", time.Minute)
	reg := &fakeRegistry{eps: []domain.Endpoint{fresh, stale}}
	st := memory.New()
	ctx := context.Background()

	record(t, st, fresh.ID, 10*time.Second)
	record(t, st, stale.ID, 2*time.Minute)

	pr := newFakeProber()
	s, _ := newTestScheduler(reg, st, pr, 2)

	s.warmStart(ctx)
	s.runOnce(ctx)
	s.wg.Wait()

	if pr.count(fresh.ID) != 0 {
		t.Fatalf("fresh endpoint re-checked after restart: %d", pr.count(fresh.ID))
	}
	if pr.count(stale.ID) != 1 {
		t.Fatalf("stale endpoint not checked after restart: %d", pr.count(stale.ID))
	}
}

func TestScheduler_TriggerCheck(t *testing.T) {
	a := ep("a", time.Minute)
	reg := &fakeRegistry{eps: []domain.Endpoint{a}}
	st := memory.New()
	pr := newFakeProber()
	s, ev := newTestScheduler(reg, st, pr, 2)
	ctx := context.Background()

	r, err := s.TriggerCheck(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.Verdict != domain.VerdictSuccess || r.ID == 0 {
		t.Fatalf("unexpected result %+v", r)
	}
	if ev.count() != 1 {
		t.Fatalf("manual check skipped alert evaluation: %d", ev.count())
	}

	// stored through the same path as scheduled checks
	recent, err := st.Recent(ctx, a.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Fatalf("want stored result, got %d", len(recent))
	}

	// the cadence stays untouched
	s.mu.Lock()
	_, scheduled := s.lastRun[a.ID]
	s.mu.Unlock()
	if scheduled {
		t.Fatal("manual check must not advance the schedule")
	}

	if _, err := s.TriggerCheck(ctx, "nope"); !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("want ErrUnknownEndpoint, got %v", err)
	}
}

func TestScheduler_TriggerCheckBusy(t *testing.T) {
	a := ep("a", time.Minute)
	reg := &fakeRegistry{eps: []domain.Endpoint{a}}
	pr := newFakeProber()
	pr.block = make(chan struct{})
	s, _ := newTestScheduler(reg, memory.New(), pr, 2)
	ctx := context.Background()

	s.runOnce(ctx)
	waitFor(t, func() bool { return pr.count(a.ID) == 1 })

	if _, err := s.TriggerCheck(ctx, a.ID); !errors.Is(err, ErrCheckInFlight) {
		t.Fatalf("want ErrCheckInFlight, got %v", err)
	}

	close(pr.block)
	s.wg.Wait()
}

func TestScheduler_InvalidEndpointSkipped(t *testing.T) {
	bad := domain.Endpoint{ID: "bad", Name: "bad", Interval: time.Minute, Timeout: time.Second, Active: true}
	good := ep("good", time.Minute)
	reg := &fakeRegistry{eps: []domain.Endpoint{bad, good}}
	pr := newFakeProber()
	s, _ := newTestScheduler(reg, memory.New(), pr, 2)
	ctx := context.Background()

	s.runOnce(ctx)
	s.wg.Wait()
	s.runOnce(ctx)
	s.wg.Wait()

	if pr.count(bad.ID) != 0 {
		t.Fatalf("invalid endpoint was probed %d times", pr.count(bad.ID))
	}
	if pr.count(good.ID) != 1 {
		t.Fatalf("valid sibling not checked: %d", pr.count(good.ID))
	}

	if _, err := s.TriggerCheck(ctx, bad.ID); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("want ErrInvalidEndpoint, got %v", err)
	}
}

func TestScheduler_StoreErrorIsolatesEndpoint(t *testing.T) {
	a := ep("a", time.Minute)
	b := ep("b", time.Minute)
	reg := &fakeRegistry{eps: []domain.Endpoint{a, b}}
	st := memory.New()
	pr := newFakeProber()
	s, ev := newTestScheduler(reg, &failingResults{ResultStore: st, failFor: a.ID}, pr, 2)
	ctx := context.Background()

	s.runOnce(ctx)
	s.wg.Wait()

	// b's result landed even though a's write failed
	recent, err := st.Recent(ctx, b.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Fatalf("sibling write lost: %d", len(recent))
	}
	// the failed cycle never reached alert evaluation
	if ev.count() != 1 {
		t.Fatalf("want 1 evaluation, got %d", ev.count())
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	a := ep("a", time.Minute)
	reg := &fakeRegistry{eps: []domain.Endpoint{a}}
	pr := newFakeProber()
	s, _ := newTestScheduler(reg, memory.New(), pr, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return pr.count(a.ID) == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
