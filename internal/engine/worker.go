// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"time"

	xglog "github.com/ManuGH/timegate/internal/log"
	"golang.org/x/time/rate"
)

// Run performs an initial rebuild and then serves rebuild triggers until ctx
// is cancelled. Failed rebuilds are retried with exponential backoff between
// RetryBase and RetryMax; the live snapshot is never cleared.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	limit := rate.Inf
	if e.cfg.MinInterval > 0 {
		limit = rate.Every(e.cfg.MinInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var resync <-chan time.Time
	if e.cfg.ResyncInterval > 0 {
		ticker := time.NewTicker(e.cfg.ResyncInterval)
		defer ticker.Stop()
		resync = ticker.C
	}

	var (
		retry   *time.Timer
		retryC  <-chan time.Time
		backoff time.Duration
	)
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	attempt := func(trigger string) {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if retry != nil {
			retry.Stop()
			retry, retryC = nil, nil
		}
		if _, err := e.rebuildShared(ctx, trigger); err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff = nextBackoff(backoff, e.cfg.RetryBase, e.cfg.RetryMax)
			retry = time.NewTimer(backoff)
			retryC = retry.C
			e.logger.Warn().
				Str(xglog.FieldEvent, "index.rebuild_retry_scheduled").
				Dur("retry_in", backoff).
				Msg("rule index rebuild will be retried")
			return
		}
		backoff = 0
	}

	e.logger.Info().Str(xglog.FieldEvent, "engine.started").Msg("rebuild worker started")
	attempt("startup")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Str(xglog.FieldEvent, "engine.stopped").Msg("rebuild worker stopped")
			return nil
		case <-e.trigger:
			attempt("notify")
		case <-retryC:
			attempt("retry")
		case <-resync:
			attempt("resync")
		}
	}
}

func nextBackoff(cur, base, max time.Duration) time.Duration {
	if cur <= 0 {
		return base
	}
	cur *= 2
	if cur > max {
		cur = max
	}
	return cur
}
