// Package orchestrator drives the periodic crawl cycle.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ytakeda/staffwatch/internal/metrics"
	"github.com/ytakeda/staffwatch/internal/notify"
	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Runner fans sources out to the fetch workers.
type Runner interface {
	Run(ctx context.Context, sources []staffing.Source) []staffing.FetchOutcome
}

// Invalidator drops cached aggregation results after a cycle.
type Invalidator interface {
	InvalidateAll()
}

// Config controls the crawl schedule.
type Config struct {
	// Interval between automatic cycles.
	Interval time.Duration
	// Retention is how far back snapshots are kept.
	Retention time.Duration
	// StartupDelay postpones the first automatic cycle so the process
	// becomes ready before the first burst of headless work.
	StartupDelay time.Duration
}

// Status is the externally visible orchestrator state.
type Status struct {
	State     staffing.CycleState    `json:"state"`
	Last      *staffing.CycleSummary `json:"last_cycle,omitempty"`
	StartedAt *time.Time             `json:"current_started_at,omitempty"`
	NextRunAt *time.Time             `json:"next_run_at,omitempty"`
}

// Orchestrator owns the crawl lifecycle: one cycle at a time, scheduled
// periodically, triggerable manually between ticks.
type Orchestrator struct {
	store     staffing.Store
	runner    Runner
	extractor staffing.Extractor
	cache     Invalidator
	publisher notify.Publisher
	clock     staffing.Clock
	ids       staffing.IDGenerator
	cfg       Config
	logger    *zap.Logger

	mu        sync.Mutex
	state     staffing.CycleState
	last      *staffing.CycleSummary
	startedAt *time.Time
	nextRunAt *time.Time
	lifeCtx   context.Context

	wg sync.WaitGroup
}

// New constructs an Orchestrator.
func New(
	store staffing.Store,
	runner Runner,
	extractor staffing.Extractor,
	cache Invalidator,
	publisher notify.Publisher,
	clock staffing.Clock,
	ids staffing.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 730 * 24 * time.Hour
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		runner:    runner,
		extractor: extractor,
		cache:     cache,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
		state:     staffing.CycleIdle,
		lifeCtx:   context.Background(),
	}
}

// Run blocks until the context finishes, executing one cycle per interval.
// The first cycle starts after the startup delay so readiness never waits
// on a crawl.
func (o *Orchestrator) Run(ctx context.Context) {
	o.mu.Lock()
	o.lifeCtx = ctx
	o.mu.Unlock()

	delay := o.cfg.StartupDelay
	if delay <= 0 {
		delay = time.Nanosecond
	}
	o.setNextRun(o.clock.Now().Add(delay))

	startup := time.NewTimer(delay)
	defer startup.Stop()

	select {
	case <-ctx.Done():
		o.wg.Wait()
		return
	case <-startup.C:
		o.startCycle()
	}

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()
	for {
		o.setNextRun(o.clock.Now().Add(o.cfg.Interval))
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return
		case <-ticker.C:
			o.startCycle()
		}
	}
}

// TriggerNow starts a cycle immediately. It returns staffing.ErrBusy when
// a cycle is already running; manual triggers are rejected, not queued.
// The caller's context covers only the handshake. The cycle itself runs
// on the orchestrator's lifecycle context, so it outlives an HTTP request
// that returns as soon as the cycle is accepted.
func (o *Orchestrator) TriggerNow(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.startCycle()
}

// Status reports the current state and the last completed cycle.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{State: o.state, NextRunAt: o.nextRunAt}
	if o.last != nil {
		last := *o.last
		st.Last = &last
	}
	if o.startedAt != nil {
		at := *o.startedAt
		st.StartedAt = &at
	}
	return st
}

// Wait blocks until any in-flight cycle finishes.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) startCycle() error {
	o.mu.Lock()
	if o.state == staffing.CycleRunning {
		o.mu.Unlock()
		return staffing.ErrBusy
	}
	o.state = staffing.CycleRunning
	started := o.clock.Now()
	o.startedAt = &started
	ctx := o.lifeCtx
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		summary := o.cycle(ctx, started)

		o.mu.Lock()
		o.state = staffing.CycleIdle
		o.startedAt = nil
		o.last = &summary
		o.mu.Unlock()
	}()
	return nil
}

func (o *Orchestrator) cycle(ctx context.Context, started time.Time) staffing.CycleSummary {
	summary := staffing.CycleSummary{Started: started}
	if id, err := o.ids.NewID(); err == nil {
		summary.ID = id
	}
	log := o.logger.With(zap.String("cycle_id", summary.ID))
	log.Info("crawl cycle started")

	sources, err := o.store.ListSources(ctx)
	if err != nil {
		log.Error("listing sources failed", zap.Error(err))
		metrics.ObserveCycle("error")
		return o.finish(ctx, log, summary)
	}
	summary.Sources = len(sources)

	outcomes := o.runner.Run(ctx, sources)
	for _, outcome := range outcomes {
		if o.processOutcome(ctx, log, outcome, &summary) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	if summary.Failed > 0 {
		metrics.ObserveCycle("partial")
	} else {
		metrics.ObserveCycle("ok")
	}
	return o.finish(ctx, log, summary)
}

// processOutcome turns one fetch outcome into a stored snapshot and keeps
// the source error flag in sync. It reports whether the record succeeded.
func (o *Orchestrator) processOutcome(ctx context.Context, log *zap.Logger, outcome staffing.FetchOutcome, summary *staffing.CycleSummary) bool {
	src := outcome.Source
	if !outcome.OK() {
		log.Warn("source fetch failed",
			zap.String("url", src.URL),
			zap.Int("attempts", outcome.Attempts),
			zap.String("kind", string(outcome.Failure)),
			zap.Error(outcome.Err),
		)
		if err := o.store.MarkSourceError(ctx, src.ID); err != nil {
			log.Error("marking source error failed", zap.Int64("source_id", src.ID), zap.Error(err))
		}
		return false
	}

	if src.ErrorFlag {
		if err := o.store.ClearSourceError(ctx, src.ID); err != nil {
			log.Error("clearing source error failed", zap.Int64("source_id", src.ID), zap.Error(err))
		}
	}

	snap, err := o.extractor.Extract(outcome.Response.Body, src.URL, o.clock.Now())
	if err != nil {
		log.Warn("extraction failed", zap.String("url", src.URL), zap.Error(err))
		return false
	}

	if err := o.store.Append(ctx, snap); err != nil {
		log.Error("snapshot append failed", zap.String("source", snap.SourceName), zap.Error(err))
		return false
	}
	summary.Appended++
	metrics.ObserveAppend()
	return true
}

func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, summary staffing.CycleSummary) staffing.CycleSummary {
	cutoff := o.clock.Now().Add(-o.cfg.Retention)
	pruned, err := o.store.Prune(ctx, cutoff)
	if err != nil {
		log.Error("pruning failed", zap.Error(err))
	}
	summary.Pruned = pruned

	if o.cache != nil {
		o.cache.InvalidateAll()
	}

	summary.Finished = o.clock.Now()
	summary.Duration = summary.Finished.Sub(summary.Started)
	summary.DurationMs = summary.Duration.Milliseconds()

	if err := o.publisher.Publish(ctx, summary); err != nil {
		log.Error("publishing cycle summary failed", zap.Error(err))
	}

	log.Info("crawl cycle finished",
		zap.Int("sources", summary.Sources),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("appended", summary.Appended),
		zap.Int64("pruned", summary.Pruned),
		zap.Duration("duration", summary.Duration),
	)
	return summary
}

func (o *Orchestrator) setNextRun(at time.Time) {
	o.mu.Lock()
	o.nextRunAt = &at
	o.mu.Unlock()
}
