// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache[V any]() (*Memory[V], *clock) {
	clk := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[V](0)
	c.now = clk.Now
	return c, clk
}

func TestMemory_GetSet(t *testing.T) {
	c, _ := newTestCache[string]()

	c.Set("key1", "value1", time.Minute)
	val, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "value1", val)

	_, ok = c.Get("nonexistent")
	assert.False(t, ok)
}

func TestMemory_Expiration(t *testing.T) {
	c, clk := newTestCache[int]()

	c.Set("k", 7, time.Second)
	clk.Advance(999 * time.Millisecond)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	clk.Advance(time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)

	assert.Equal(t, 1, c.DeleteExpired())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestMemory_DeleteAndClear(t *testing.T) {
	c, _ := newTestCache[string]()
	c.Set("a", "1", time.Minute)
	c.Set("b", "2", time.Minute)
	c.Set("c", "3", time.Minute)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Stats().CurrentSize)

	c.Clear()
	assert.Equal(t, 0, c.Stats().CurrentSize)

	c.Set("d", "4", 0)
	_, ok = c.Get("d")
	assert.False(t, ok)
}

func TestMemory_Stats(t *testing.T) {
	c, _ := newTestCache[string]()
	c.Set("key1", "value1", time.Minute)
	c.Set("key2", "value2", time.Minute)

	c.Get("key1")
	c.Get("key1")
	c.Get("nonexistent")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Sets)
	assert.Equal(t, 2, stats.CurrentSize)
}

func TestMemory_JanitorStops(t *testing.T) {
	c := New[string](10 * time.Millisecond)
	c.Set("short", "x", time.Millisecond)
	c.Set("long", "y", time.Hour)

	assert.Eventually(t, func() bool { return c.Stats().CurrentSize == 1 }, time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	c := New[int](0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Set("k", i*j, time.Minute)
				c.Get("k")
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(1600), c.Stats().Sets)
}
