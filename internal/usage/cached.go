// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package usage

import (
	"context"
	"time"

	"github.com/ManuGH/timegate/internal/cache"
	"github.com/ManuGH/timegate/internal/evaluator"
	"github.com/ManuGH/timegate/internal/schedule"
	"golang.org/x/sync/singleflight"
)

// Cached serves repeated lookups for the same occurrence from memory for ttl.
// Errors are not cached. Concurrent misses for one key share a single call.
type Cached struct {
	next  evaluator.UsageProvider
	ttl   time.Duration
	cache *cache.Memory[evaluator.Usage]
	group singleflight.Group
}

// NewCached wraps next. Call Close to stop the cache janitor.
func NewCached(next evaluator.UsageProvider, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		ttl:   ttl,
		cache: cache.New[evaluator.Usage](max(ttl*4, time.Second)),
	}
}

func (c *Cached) Usage(ctx context.Context, subjectKey string, w schedule.Window, now time.Time) (evaluator.Usage, error) {
	key := Key(subjectKey, w, now)
	if u, ok := c.cache.Get(key); ok {
		return u, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		u, err := c.next.Usage(ctx, subjectKey, w, now)
		if err != nil {
			return evaluator.Usage{}, err
		}
		c.cache.Set(key, u, c.ttl)
		return u, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return evaluator.Usage{}, res.Err
		}
		return res.Val.(evaluator.Usage), nil
	case <-ctx.Done():
		return evaluator.Usage{}, ctx.Err()
	}
}

// Invalidate drops the cached entry for one occurrence, e.g. after Record.
func (c *Cached) Invalidate(subjectKey string, w schedule.Window, at time.Time) {
	c.cache.Delete(Key(subjectKey, w, at))
}

// Stats exposes the cache counters.
func (c *Cached) Stats() cache.Stats {
	return c.cache.Stats()
}

func (c *Cached) Close() {
	c.cache.Stop()
}

// InvalidatingRecorder records through Recorder and then drops the matching
// occurrence from Cache so the next evaluation sees the new totals.
type InvalidatingRecorder struct {
	Recorder Recorder
	Cache    *Cached
}

func (r InvalidatingRecorder) Record(ctx context.Context, subjectKey string, w schedule.Window, at time.Time, minutes, count int) error {
	if err := r.Recorder.Record(ctx, subjectKey, w, at, minutes, count); err != nil {
		return err
	}
	if r.Cache != nil {
		r.Cache.Invalidate(subjectKey, w, at)
	}
	return nil
}
