// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package evaluator decides whether a subject's current activity is allowed.
// Every internal failure degrades to an allowed decision.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ManuGH/timegate/internal/index"
	xglog "github.com/ManuGH/timegate/internal/log"
	"github.com/ManuGH/timegate/internal/metrics"
	"github.com/ManuGH/timegate/internal/schedule"
	"github.com/rs/zerolog"
)

// DefaultUsageTimeout bounds all usage provider calls made by one evaluation.
const DefaultUsageTimeout = 50 * time.Millisecond

// SnapshotSource exposes the live rule snapshot. *index.Index satisfies it.
type SnapshotSource interface {
	Current() *index.Snapshot
}

// Config tunes an Evaluator.
type Config struct {
	UsageTimeout time.Duration
	Logger       *zerolog.Logger // optional; defaults to the "evaluator" component logger
}

// Evaluator is safe for concurrent use. It only reads the snapshot.
type Evaluator struct {
	rules  SnapshotSource
	usage  UsageProvider
	logger zerolog.Logger

	usageTimeout atomic.Int64
}

// New creates an evaluator. A nil provider reports zero usage.
func New(rules SnapshotSource, usage UsageProvider, cfg Config) *Evaluator {
	logger := xglog.WithComponent("evaluator")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	e := &Evaluator{
		rules: rules,
		usage: usage,
		// Provider failures can repeat on every event; keep the log readable.
		logger: xglog.Sampled(logger, 5, 10*time.Second),
	}
	e.SetUsageTimeout(cfg.UsageTimeout)
	return e
}

// SetUsageTimeout changes the per-evaluation usage deadline. Non-positive
// values restore DefaultUsageTimeout.
func (e *Evaluator) SetUsageTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultUsageTimeout
	}
	e.usageTimeout.Store(int64(d))
}

// UsageTimeout returns the current per-evaluation usage deadline.
func (e *Evaluator) UsageTimeout() time.Duration {
	return time.Duration(e.usageTimeout.Load())
}

// Evaluate decides for subjectKey at now. The first applicable outcome wins:
// unknown or disabled subject → allowed; otherwise the first rule (in snapshot
// order) for today's day whose window contains now and whose budget is reached
// blocks; otherwise allowed.
//
// Provider calls share a single UsageTimeout deadline, so a stalled provider
// delays Evaluate by at most UsageTimeout however many windows are active.
// Windows reached after the deadline count as zero usage.
func (e *Evaluator) Evaluate(subjectKey string, now time.Time) (d Decision) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str(xglog.FieldEvent, "evaluator.panic").
				Str(xglog.FieldSubjectKey, subjectKey).
				Interface("panic", r).
				Msg("evaluation panicked, allowing")
			d = allowed(subjectKey, now, ReasonEvaluationFailed)
		}
		metrics.RecordEvaluation(d.Blocked, string(d.Reason), time.Since(started))
	}()

	snap := e.rules.Current()

	subj, ok := snap.Subject(subjectKey)
	if !ok {
		return allowed(subjectKey, now, ReasonSubjectUnknown)
	}
	if !subj.Enabled {
		d = allowed(subjectKey, now, ReasonSubjectDisabled)
		d.SnapshotVersion = snap.Version()
		return d
	}

	d = allowed(subjectKey, now, ReasonNoActiveRule)
	d.SnapshotVersion = snap.Version()

	today := schedule.DayOf(now)
	seen := make(map[schedule.Window]Usage, 2)

	// Started on the first active window so idle subjects pay nothing.
	var usageCtx context.Context
	cancel := context.CancelFunc(func() {})
	defer func() { cancel() }()

	for _, rule := range snap.Rules(subjectKey) {
		if rule.Day != today || !rule.Window.Contains(now) {
			continue
		}

		u, cached := seen[rule.Window]
		if !cached {
			if usageCtx == nil {
				usageCtx, cancel = context.WithTimeout(context.Background(), e.UsageTimeout())
			}
			var ok bool
			u, ok = e.fetchUsage(usageCtx, subjectKey, rule.Window, now)
			if !ok {
				d.UsageDegraded = true
			}
			seen[rule.Window] = u
		}

		d.UsageMinutes, d.UsageCount = u.Minutes, u.Count
		d.Reason = ReasonWithinBudget

		if rule.Exceeded(u.Minutes, u.Count) {
			d.Blocked = true
			d.Rule = &rule
			d.Reason = ReasonCountBudgetExceeded
			if rule.TimeExceeded(u.Minutes) {
				d.Reason = ReasonTimeBudgetExceeded
			}
			return d
		}
	}

	return d
}

var errUsageTimeout = errors.New("usage provider timed out")

type usageResult struct {
	usage Usage
	err   error
	kind  string
}

// fetchUsage calls the provider under the evaluation's deadline ctx. Any
// failure yields zero usage and ok=false. Once ctx has expired the provider is
// not called at all. The provider runs on its own goroutine so that one
// ignoring ctx cannot hold the caller past the deadline.
func (e *Evaluator) fetchUsage(ctx context.Context, key string, w schedule.Window, now time.Time) (Usage, bool) {
	if e.usage == nil {
		return Usage{}, true
	}
	if ctx.Err() != nil {
		metrics.IncUsageFailure("skipped")
		e.logger.Warn().
			Str(xglog.FieldEvent, "evaluator.usage_skipped").
			Str(xglog.FieldSubjectKey, key).
			Str("window", w.String()).
			Msg("usage deadline already spent, treating as zero")
		return Usage{}, false
	}

	ch := make(chan usageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- usageResult{err: fmt.Errorf("usage provider panic: %v", r), kind: "panic"}
			}
		}()
		u, err := e.usage.Usage(ctx, key, w, now)
		ch <- usageResult{usage: u, err: err, kind: "error"}
	}()

	var res usageResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = usageResult{err: errUsageTimeout, kind: "timeout"}
	}

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.kind = "timeout"
		}
		metrics.IncUsageFailure(res.kind)
		e.logger.Warn().
			Err(res.err).
			Str(xglog.FieldEvent, "evaluator.usage_failed").
			Str(xglog.FieldSubjectKey, key).
			Str("window", w.String()).
			Str("kind", res.kind).
			Msg("usage unavailable, treating as zero")
		return Usage{}, false
	}

	u := res.usage
	if u.Minutes < 0 {
		u.Minutes = 0
	}
	if u.Count < 0 {
		u.Count = 0
	}
	return u, true
}
