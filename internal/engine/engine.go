// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine ties the rule store, the snapshot index and the evaluator
// together and owns the background rebuild worker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/timegate/internal/evaluator"
	"github.com/ManuGH/timegate/internal/index"
	xglog "github.com/ManuGH/timegate/internal/log"
	"github.com/ManuGH/timegate/internal/metrics"
	"github.com/ManuGH/timegate/internal/schedule"
	"github.com/ManuGH/timegate/internal/store"
	"github.com/ManuGH/timegate/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotStarted is reported until the first snapshot has been installed.
	ErrNotStarted = errors.New("engine: no rule snapshot installed yet")
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("engine: already running")
)

// Config tunes the engine. Zero fields take the DefaultConfig value, except
// ResyncInterval where zero disables periodic resync.
type Config struct {
	UsageTimeout   time.Duration
	MinInterval    time.Duration
	RetryBase      time.Duration
	RetryMax       time.Duration
	ResyncInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		UsageTimeout:   evaluator.DefaultUsageTimeout,
		MinInterval:    250 * time.Millisecond,
		RetryBase:      500 * time.Millisecond,
		RetryMax:       30 * time.Second,
		ResyncInterval: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.UsageTimeout <= 0 {
		c.UsageTimeout = def.UsageTimeout
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = def.RetryBase
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = c.RetryBase
	}
	return c
}

// Stats describes the live snapshot and the last rebuild attempt.
type Stats struct {
	Version     uint64    `json:"version"`
	BuiltAt     time.Time `json:"builtAt"`
	Subjects    int       `json:"subjects"`
	Rules       int       `json:"rules"`
	Dropped     int       `json:"dropped"`
	LastAttempt time.Time `json:"lastAttempt"`
	LastError   string    `json:"lastError,omitempty"`
	Running     bool      `json:"running"`
}

// Engine is safe for concurrent use. Evaluate never touches the store.
type Engine struct {
	store  store.RuleStore
	index  *index.Index
	eval   *evaluator.Evaluator
	cfg    Config
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time

	trigger chan struct{}
	group   singleflight.Group
	running atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once

	mu          sync.Mutex
	lastAttempt time.Time
	lastErr     error
}

// New wires an engine. A nil usage provider reports zero usage.
func New(rules store.RuleStore, usage evaluator.UsageProvider, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	idx := index.New()
	return &Engine{
		store:   rules,
		index:   idx,
		eval:    evaluator.New(idx, usage, evaluator.Config{UsageTimeout: cfg.UsageTimeout}),
		cfg:     cfg,
		logger:  xglog.WithComponent("engine"),
		tracer:  telemetry.Tracer("timegate/engine"),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		ready:   make(chan struct{}),
	}
}

// Evaluate decides for subjectKey at now against the live snapshot.
//
// The enabled gate reads the subject record captured in the snapshot. A
// subject disabled through the store is therefore guaranteed to be allowed
// only once the rebuild scheduled by NotifyRulesChanged has been installed.
func (e *Engine) Evaluate(subjectKey string, now time.Time) evaluator.Decision {
	return e.eval.Evaluate(subjectKey, now)
}

// NotifyRulesChanged schedules an asynchronous rebuild and returns at once.
// Bursts collapse into a single pending rebuild.
func (e *Engine) NotifyRulesChanged() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// BuildCoverageGrid projects rules onto the weekly grid.
func (e *Engine) BuildCoverageGrid(rules []schedule.Rule) schedule.Grid {
	return schedule.BuildCoverage(rules)
}

// SubjectCoverage builds the grid from the subject's stored rules. An unknown
// key yields an empty grid.
func (e *Engine) SubjectCoverage(ctx context.Context, key string) (schedule.Grid, error) {
	subj, ok, err := e.store.SubjectByKey(ctx, key)
	if err != nil {
		return schedule.Grid{}, fmt.Errorf("resolve subject %q: %w", key, err)
	}
	if !ok {
		return schedule.Grid{}, nil
	}
	rules, err := e.store.RulesForSubject(ctx, subj.ID)
	if err != nil {
		return schedule.Grid{}, fmt.Errorf("list rules for %q: %w", key, err)
	}
	return schedule.BuildCoverage(rules), nil
}

// Expand turns a template into per-day rules stamped with the current time.
// Nothing is persisted.
func (e *Engine) Expand(p schedule.Pattern, w schedule.Window, b schedule.Budget, subjectID int64) ([]schedule.Rule, error) {
	return schedule.Expand(p, w, b, subjectID, e.now().UTC())
}

// AuthorRules expands a template for the subject identified by key, persists
// the result and schedules a rebuild.
func (e *Engine) AuthorRules(ctx context.Context, key string, p schedule.Pattern, w schedule.Window, b schedule.Budget) ([]schedule.Rule, error) {
	subj, ok, err := e.store.SubjectByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve subject %q: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSubjectNotFound, key)
	}
	rules, err := e.Expand(p, w, b, subj.ID)
	if err != nil {
		return nil, err
	}
	created, err := e.store.CreateRules(ctx, rules)
	if err != nil {
		return nil, err
	}
	e.logger.Info().
		Str(xglog.FieldEvent, "rules.created").
		Str(xglog.FieldSubjectKey, key).
		Str("pattern", p.String()).
		Str("window", w.String()).
		Int(xglog.FieldRules, len(created)).
		Msg("rules created")
	e.NotifyRulesChanged()
	return created, nil
}

// SetUsageTimeout changes the evaluator's per-evaluation usage deadline.
func (e *Engine) SetUsageTimeout(d time.Duration) {
	e.eval.SetUsageTimeout(d)
}

// UsageTimeout returns the evaluator's current per-evaluation usage deadline.
func (e *Engine) UsageTimeout() time.Duration {
	return e.eval.UsageTimeout()
}

func (e *Engine) Index() *index.Index { return e.index }

func (e *Engine) Snapshot() *index.Snapshot { return e.index.Current() }

func (e *Engine) Store() store.RuleStore { return e.store }

// Ready is closed once the first snapshot has been installed.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Healthy returns ErrNotStarted until a snapshot is live.
func (e *Engine) Healthy() error {
	select {
	case <-e.ready:
		return nil
	default:
		return ErrNotStarted
	}
}

func (e *Engine) Stats() Stats {
	snap := e.index.Current()
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		Version:     snap.Version(),
		BuiltAt:     snap.BuiltAt(),
		Subjects:    snap.Len(),
		Rules:       snap.RuleCount(),
		Dropped:     snap.Dropped(),
		LastAttempt: e.lastAttempt,
		Running:     e.running.Load(),
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// RebuildNow rebuilds synchronously. Concurrent callers share one rebuild.
func (e *Engine) RebuildNow(ctx context.Context) (*index.Snapshot, error) {
	return e.rebuildShared(ctx, "manual")
}

func (e *Engine) rebuildShared(ctx context.Context, trigger string) (*index.Snapshot, error) {
	ch := e.group.DoChan("rebuild", func() (any, error) {
		return e.rebuild(ctx, trigger)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*index.Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) rebuild(ctx context.Context, trigger string) (*index.Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "index.rebuild",
		trace.WithAttributes(attribute.String(telemetry.RebuildTriggerKey, trigger)))
	defer span.End()

	started := time.Now()
	snap, err := e.loadAndInstall(ctx)
	elapsed := time.Since(started)

	e.mu.Lock()
	e.lastAttempt = started
	e.lastErr = err
	e.mu.Unlock()

	if err != nil {
		metrics.RecordRebuildFailure(elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rebuild failed")
		e.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "index.rebuild_failed").
			Str(xglog.FieldTrigger, trigger).
			Uint64(xglog.FieldSnapshotVersion, e.index.Current().Version()).
			Dur("duration", elapsed).
			Msg("rule index rebuild failed, keeping previous snapshot")
		return nil, err
	}

	metrics.RecordRebuildSuccess(elapsed, snap.Version(), snap.Len(), snap.RuleCount())
	span.SetAttributes(telemetry.IndexAttributes(snap.Version(), snap.Len(), snap.RuleCount(), snap.Dropped())...)
	e.readyOnce.Do(func() { close(e.ready) })

	evt := e.logger.Debug()
	if trigger == "startup" || snap.Dropped() > 0 {
		evt = e.logger.Info()
	}
	evt.Str(xglog.FieldEvent, "index.rebuild_completed").
		Str(xglog.FieldTrigger, trigger).
		Uint64(xglog.FieldSnapshotVersion, snap.Version()).
		Int(xglog.FieldSubjects, snap.Len()).
		Int(xglog.FieldRules, snap.RuleCount()).
		Int("dropped", snap.Dropped()).
		Dur("duration", elapsed).
		Msg("rule index rebuilt")
	return snap, nil
}

func (e *Engine) loadAndInstall(ctx context.Context) (*index.Snapshot, error) {
	rules, err := e.store.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	return e.index.Rebuild(ctx, rules, e.store)
}
