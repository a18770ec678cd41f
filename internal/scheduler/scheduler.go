// Package scheduler drives the check pipeline: it scans the registry on
// a master tick, dispatches due endpoints to bounded workers, and feeds
// each outcome through classify, store and alert evaluation.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apiwatch/apiwatch/internal/domain"
	"github.com/apiwatch/apiwatch/internal/metrics"
	"github.com/apiwatch/apiwatch/internal/probe"
	"github.com/apiwatch/apiwatch/internal/registry"
	"github.com/apiwatch/apiwatch/internal/repo"
)

var (
	// ErrUnknownEndpoint is returned by TriggerCheck for ids the
	// registry does not know.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrCheckInFlight is returned by TriggerCheck while a check for
	// the same endpoint is still running.
	ErrCheckInFlight = errors.New("check already in flight")

	// ErrInvalidEndpoint is returned by TriggerCheck for endpoints the
	// scheduler refuses to run (empty URL, non-positive interval or
	// timeout).
	ErrInvalidEndpoint = errors.New("invalid endpoint config")
)

// Evaluator is the alerting step of the pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, ep domain.Endpoint, r domain.CheckResult, alertWorthy bool, thresholdMS float64) error
}

type Config struct {
	Tick                      time.Duration
	MaxConcurrent             int
	DefaultLatencyThresholdMS float64
}

type Scheduler struct {
	log      *zap.Logger
	registry registry.Registry
	results  repo.ResultStore
	prober   probe.Prober
	alerter  Evaluator
	cfg      Config

	sem chan struct{}

	mu            sync.Mutex
	lastRun       map[domain.EndpointID]time.Time
	inFlight      map[domain.EndpointID]struct{}
	warnedInvalid map[domain.EndpointID]struct{}

	wg sync.WaitGroup
}

func New(
	log *zap.Logger,
	reg registry.Registry,
	results repo.ResultStore,
	prober probe.Prober,
	alerter Evaluator,
	cfg Config,
) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Second
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Scheduler{
		log:           log,
		registry:      reg,
		results:       results,
		prober:        prober,
		alerter:       alerter,
		cfg:           cfg,
		sem:           make(chan struct{}, cfg.MaxConcurrent),
		lastRun:       map[domain.EndpointID]time.Time{},
		inFlight:      map[domain.EndpointID]struct{}{},
		warnedInvalid: map[domain.EndpointID]struct{}{},
	}
}

// Run starts the loop. It restores the schedule from stored results,
// does an immediate pass, then runs each tick. In-flight checks are
// drained before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.warmStart(ctx)

	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()

	// immediate pass
	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler_stopped")
			s.wg.Wait()
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		}
	}
}

// warmStart seeds lastRun from the newest stored result per endpoint so
// a restart does not re-check everything at once.
func (s *Scheduler) warmStart(ctx context.Context) {
	times, err := s.results.LastCheckTimes(ctx)
	if err != nil {
		s.log.Warn("schedule_warmstart_error", zap.Error(err))
		return
	}
	s.mu.Lock()
	for id, ts := range times {
		s.lastRun[id] = ts
	}
	s.mu.Unlock()
	if len(times) > 0 {
		s.log.Info("schedule_restored", zap.Int("endpoints", len(times)))
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	eps, err := s.registry.ListActive(ctx)
	if err != nil {
		s.log.Warn("scheduler_list_error", zap.Error(err))
		return
	}
	metrics.ActiveEndpoints.Set(float64(len(eps)))

	now := time.Now()
	for _, ep := range eps {
		if !ep.Valid() {
			s.warnInvalidOnce(ep)
			continue
		}
		if !s.claimIfDue(ep, now) {
			continue
		}

		s.wg.Add(1)
		go func(ep domain.Endpoint) {
			defer s.wg.Done()
			defer s.release(ep.ID)

			// The cap gates workers here, never the tick loop.
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-s.sem }()

			_, _ = s.check(ctx, ep)
		}(ep)
	}
}

// claimIfDue marks the endpoint Checking and advances its schedule.
// False when the endpoint is not due yet or a check is still running.
func (s *Scheduler) claimIfDue(ep domain.Endpoint, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[ep.ID]; busy {
		return false
	}
	if last, ok := s.lastRun[ep.ID]; ok && now.Sub(last) < ep.Interval {
		return false
	}
	s.inFlight[ep.ID] = struct{}{}
	s.lastRun[ep.ID] = now
	return true
}

func (s *Scheduler) claim(id domain.EndpointID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id domain.EndpointID) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Scheduler) warnInvalidOnce(ep domain.Endpoint) {
	s.mu.Lock()
	_, seen := s.warnedInvalid[ep.ID]
	s.warnedInvalid[ep.ID] = struct{}{}
	s.mu.Unlock()
	if seen {
		return
	}
	s.log.Warn("endpoint_invalid_skipped",
		zap.String("endpoint_id", string(ep.ID)),
		zap.String("url", ep.URL),
	)
}

// check runs one probe through the whole pipeline. Errors cover the
// store write only; probe failures are regular verdicts.
func (s *Scheduler) check(ctx context.Context, ep domain.Endpoint) (*domain.CheckResult, error) {
	metrics.ChecksInFlight.Inc()
	defer metrics.ChecksInFlight.Dec()

	out := s.prober.Probe(ctx, ep)

	threshold := probe.EffectiveThreshold(ep, s.cfg.DefaultLatencyThresholdMS)
	verdict, worthy := probe.Classify(out, threshold)

	r := &domain.CheckResult{
		EndpointID:     ep.ID,
		CheckedAt:      time.Now().UTC(),
		StatusCode:     statusOf(out),
		ResponseTimeMS: out.LatencyMS,
		Verdict:        verdict,
		Error:          out.Failure.ErrorText(),
		ResponseBytes:  out.ResponseBytes,
	}

	if ctx.Err() != nil {
		// Shutdown raced the probe; an outcome caused by our own cancel
		// must not enter the history.
		s.log.Debug("check_aborted", zap.String("endpoint_id", string(ep.ID)))
		return nil, ctx.Err()
	}

	if err := s.results.Record(ctx, r); err != nil {
		metrics.StoreErrors.WithLabelValues("record").Inc()
		s.log.Warn("check_record_error",
			zap.String("endpoint_id", string(ep.ID)),
			zap.String("url", ep.URL),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.RecordCheck(ep.ID, verdict, out.LatencyMS)
	s.log.Debug("check_done",
		zap.String("endpoint_id", string(ep.ID)),
		zap.String("url", ep.URL),
		zap.String("verdict", string(verdict)),
		zap.Intp("status", r.StatusCode),
		zap.Float64p("latency_ms", r.ResponseTimeMS),
	)

	if err := s.alerter.Evaluate(ctx, ep, *r, worthy, threshold); err != nil {
		s.log.Warn("alert_evaluate_error",
			zap.String("endpoint_id", string(ep.ID)),
			zap.Error(err),
		)
	}
	return r, nil
}

// TriggerCheck runs the pipeline once for one endpoint, outside the
// schedule. It shares the per-endpoint in-flight claim with the loop
// but bypasses the concurrency cap and leaves the cadence untouched.
func (s *Scheduler) TriggerCheck(ctx context.Context, id domain.EndpointID) (*domain.CheckResult, error) {
	ep, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, ErrUnknownEndpoint
	}
	if !ep.Valid() {
		return nil, ErrInvalidEndpoint
	}
	if !s.claim(ep.ID) {
		return nil, ErrCheckInFlight
	}
	defer s.release(ep.ID)

	return s.check(ctx, *ep)
}

func statusOf(out probe.Outcome) *int {
	if !out.Completed() {
		return nil
	}
	sc := out.StatusCode
	return &sc
}
