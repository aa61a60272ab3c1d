// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package evaluator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/timegate/internal/index"
	"github.com/ManuGH/timegate/internal/schedule"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUsage
type MockUsage struct {
	mock.Mock
}

func (m *MockUsage) Usage(ctx context.Context, key string, w schedule.Window, now time.Time) (Usage, error) {
	args := m.Called(key, w)
	return args.Get(0).(Usage), args.Error(1)
}

// 2025-03-03 is a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2025, time.March, 3, hour, minute, 0, 0, time.UTC)
}

var (
	officeHours = schedule.NewWindow(9, 0, 17, 0)
	nightWindow = schedule.NewWindow(22, 0, 6, 0)
	created     = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	nopLogger   = zerolog.Nop()
)

func buildIndex(t *testing.T, subjects []schedule.Subject, rules []schedule.Rule) *index.Index {
	t.Helper()
	byID := make(map[int64]schedule.Subject)
	for _, s := range subjects {
		byID[s.ID] = s
	}
	lookup := index.SubjectLookupFunc(func(_ context.Context, id int64) (schedule.Subject, bool, error) {
		s, ok := byID[id]
		return s, ok, nil
	})
	idx := index.New()
	_, err := idx.Rebuild(context.Background(), rules, lookup)
	require.NoError(t, err)
	return idx
}

func gameSubject(enabled bool) schedule.Subject {
	return schedule.Subject{ID: 1, Key: "com.example.game", Enabled: enabled}
}

func officeRule() schedule.Rule {
	return schedule.Rule{ID: 1, SubjectID: 1, Day: schedule.Monday, Window: officeHours, TimeBudgetMinutes: 30, CreatedAt: created}
}

func newEvaluator(idx *index.Index, p UsageProvider, timeout time.Duration) *Evaluator {
	return New(idx, p, Config{UsageTimeout: timeout, Logger: &nopLogger})
}

func TestEvaluate_BlocksWhenTimeBudgetReached(t *testing.T) {
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{officeRule()})
	usage := new(MockUsage)
	usage.On("Usage", "com.example.game", officeHours).Return(Usage{Minutes: 35, Count: 1}, nil)

	d := newEvaluator(idx, usage, 0).Evaluate("com.example.game", monday(10, 0))

	assert.True(t, d.Blocked)
	require.NotNil(t, d.Rule)
	assert.Equal(t, officeRule(), *d.Rule)
	assert.Equal(t, 35, d.UsageMinutes)
	assert.Equal(t, 1, d.UsageCount)
	assert.Equal(t, ReasonTimeBudgetExceeded, d.Reason)
	assert.Equal(t, uint64(1), d.SnapshotVersion)
	usage.AssertExpectations(t)
}

func TestEvaluate_AllowsWithinBudget(t *testing.T) {
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{officeRule()})
	usage := new(MockUsage)
	usage.On("Usage", "com.example.game", officeHours).Return(Usage{Minutes: 10, Count: 1}, nil)

	d := newEvaluator(idx, usage, 0).Evaluate("com.example.game", monday(10, 0))

	assert.False(t, d.Blocked)
	assert.Nil(t, d.Rule)
	assert.Equal(t, ReasonWithinBudget, d.Reason)
	assert.Equal(t, 10, d.UsageMinutes)
	assert.Equal(t, 1, d.UsageCount)
}

func TestEvaluate_CountBudget(t *testing.T) {
	rule := schedule.Rule{ID: 1, SubjectID: 1, Day: schedule.Monday, Window: officeHours, CountBudget: 3, CreatedAt: created}
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{rule})
	usage := new(MockUsage)
	usage.On("Usage", "com.example.game", officeHours).Return(Usage{Minutes: 500, Count: 3}, nil)

	d := newEvaluator(idx, usage, 0).Evaluate("com.example.game", monday(12, 0))
	assert.True(t, d.Blocked)
	assert.Equal(t, ReasonCountBudgetExceeded, d.Reason)
}

func TestEvaluate_UnlimitedRuleNeverBlocks(t *testing.T) {
	rule := schedule.Rule{ID: 1, SubjectID: 1, Day: schedule.Monday, Window: officeHours, CreatedAt: created}
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{rule})
	usage := new(MockUsage)
	usage.On("Usage", "com.example.game", officeHours).Return(Usage{Minutes: 10000, Count: 10000}, nil)

	d := newEvaluator(idx, usage, 0).Evaluate("com.example.game", monday(12, 0))
	assert.False(t, d.Blocked)
}

func TestEvaluate_UnknownSubjectAllowed(t *testing.T) {
	idx := buildIndex(t, nil, nil)
	usage := new(MockUsage)

	d := newEvaluator(idx, usage, 0).Evaluate("com.example.nobody", monday(10, 0))
	assert.False(t, d.Blocked)
	assert.Equal(t, ReasonSubjectUnknown, d.Reason)
	usage.AssertNotCalled(t, "Usage", mock.Anything, mock.Anything)
}

func TestEvaluate_DisabledSubjectAlwaysAllowed(t *testing.T) {
	rules := []schedule.Rule{
		officeRule(),
		{ID: 2, SubjectID: 1, Day: schedule.Monday, Window: nightWindow, CountBudget: 1, CreatedAt: created},
	}
	idx := buildIndex(t, []schedule.Subject{gameSubject(false)}, rules)
	usage := new(MockUsage)
	usage.On("Usage", mock.Anything, mock.Anything).Return(Usage{Minutes: 1 << 20, Count: 1 << 20}, nil)
	ev := newEvaluator(idx, usage, 0)

	for h := 0; h < 24; h++ {
		for day := 0; day < 7; day++ {
			now := monday(h, 30).AddDate(0, 0, day)
			d := ev.Evaluate("com.example.game", now)
			assert.False(t, d.Blocked, "blocked at %s", now)
			assert.Equal(t, ReasonSubjectDisabled, d.Reason)
		}
	}
	usage.AssertNotCalled(t, "Usage", mock.Anything, mock.Anything)
}

func TestEvaluate_SkipsOtherDaysAndWindows(t *testing.T) {
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{officeRule()})
	usage := new(MockUsage)
	ev := newEvaluator(idx, usage, 0)

	tuesday := monday(10, 0).AddDate(0, 0, 1)
	d := ev.Evaluate("com.example.game", tuesday)
	assert.False(t, d.Blocked)
	assert.Equal(t, ReasonNoActiveRule, d.Reason)

	d = ev.Evaluate("com.example.game", monday(18, 0))
	assert.Equal(t, ReasonNoActiveRule, d.Reason)

	// Exact boundary is outside the window.
	d = ev.Evaluate("com.example.game", monday(9, 0))
	assert.Equal(t, ReasonNoActiveRule, d.Reason)

	usage.AssertNotCalled(t, "Usage", mock.Anything, mock.Anything)
}

func TestEvaluate_MidnightCrossingWindowOnRuleDay(t *testing.T) {
	rule := schedule.Rule{ID: 5, SubjectID: 1, Day: schedule.Monday, Window: nightWindow, CountBudget: 1, CreatedAt: created}
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{rule})
	usage := new(MockUsage)
	usage.On("Usage", "com.example.game", nightWindow).Return(Usage{Count: 1}, nil)
	ev := newEvaluator(idx, usage, 0)

	assert.True(t, ev.Evaluate("com.example.game", monday(23, 0)).Blocked)
	assert.True(t, ev.Evaluate("com.example.game", monday(2, 0)).Blocked)
	// Tuesday early morning belongs to Tuesday; the Monday rule does not apply.
	assert.False(t, ev.Evaluate("com.example.game", monday(2, 0).AddDate(0, 0, 1)).Blocked)
}

func TestEvaluate_FirstViolationByCreationOrder(t *testing.T) {
	older := schedule.Rule{ID: 9, SubjectID: 1, Day: schedule.Monday, Window: officeHours, TimeBudgetMinutes: 10, CreatedAt: created}
	newer := schedule.Rule{ID: 2, SubjectID: 1, Day: schedule.Monday, Window: schedule.NewWindow(8, 0, 20, 0), CountBudget: 1, CreatedAt: created.Add(time.Hour)}
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{newer, older})

	usage := new(MockUsage)
	usage.On("Usage", "com.example.game", mock.Anything).Return(Usage{Minutes: 60, Count: 5}, nil)
	ev := newEvaluator(idx, usage, 0)

	for i := 0; i < 20; i++ {
		d := ev.Evaluate("com.example.game", monday(12, 0))
		require.True(t, d.Blocked)
		assert.Equal(t, int64(9), d.Rule.ID)
	}
}

func TestEvaluate_UsageMemoisedPerWindow(t *testing.T) {
	rules := []schedule.Rule{
		{ID: 1, SubjectID: 1, Day: schedule.Monday, Window: officeHours, TimeBudgetMinutes: 100, CreatedAt: created},
		{ID: 2, SubjectID: 1, Day: schedule.Monday, Window: officeHours, CountBudget: 100, CreatedAt: created.Add(time.Second)},
	}
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, rules)
	usage := new(MockUsage)
	usage.On("Usage", "com.example.game", officeHours).Return(Usage{Minutes: 1, Count: 1}, nil).Once()

	d := newEvaluator(idx, usage, 0).Evaluate("com.example.game", monday(10, 0))
	assert.False(t, d.Blocked)
	usage.AssertNumberOfCalls(t, "Usage", 1)
}

func TestEvaluate_FailOpenOnProviderError(t *testing.T) {
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{officeRule()})
	usage := new(MockUsage)
	usage.On("Usage", "com.example.game", officeHours).Return(Usage{Minutes: 999}, errors.New("redis down"))

	d := newEvaluator(idx, usage, 0).Evaluate("com.example.game", monday(10, 0))
	assert.False(t, d.Blocked)
	assert.True(t, d.UsageDegraded)
	assert.Zero(t, d.UsageMinutes)
}

func TestEvaluate_FailOpenOnSlowProvider(t *testing.T) {
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{officeRule()})
	release := make(chan struct{})
	defer close(release)
	slow := UsageProviderFunc(func(_ context.Context, _ string, _ schedule.Window, _ time.Time) (Usage, error) {
		<-release // ignores ctx on purpose
		return Usage{Minutes: 999}, nil
	})

	ev := newEvaluator(idx, slow, 20*time.Millisecond)
	start := time.Now()
	d := ev.Evaluate("com.example.game", monday(10, 0))

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, d.Blocked)
	assert.True(t, d.UsageDegraded)
}

func TestEvaluate_StalledProviderSharesOneDeadline(t *testing.T) {
	var rules []schedule.Rule
	for i := 0; i < 6; i++ {
		rules = append(rules, schedule.Rule{
			ID: int64(i + 1), SubjectID: 1, Day: schedule.Monday,
			Window: schedule.NewWindow(8, i, 20, 0), TimeBudgetMinutes: 30, CreatedAt: created,
		})
	}
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, rules)

	var calls atomic.Int32
	release := make(chan struct{})
	defer close(release)
	stalled := UsageProviderFunc(func(context.Context, string, schedule.Window, time.Time) (Usage, error) {
		calls.Add(1)
		<-release // ignores ctx on purpose
		return Usage{Minutes: 999}, nil
	})

	const timeout = 40 * time.Millisecond
	ev := newEvaluator(idx, stalled, timeout)
	start := time.Now()
	d := ev.Evaluate("com.example.game", monday(12, 0))
	elapsed := time.Since(start)

	// Six windows at one timeout each would take 240ms.
	assert.Less(t, elapsed, 3*timeout)
	assert.False(t, d.Blocked)
	assert.True(t, d.UsageDegraded)
	assert.Equal(t, ReasonWithinBudget, d.Reason)
	assert.Equal(t, int32(1), calls.Load(), "windows after the deadline must not reach the provider")
}

func TestEvaluate_DeadlineSpansWindowsNotCalls(t *testing.T) {
	rules := []schedule.Rule{
		{ID: 1, SubjectID: 1, Day: schedule.Monday, Window: schedule.NewWindow(8, 0, 20, 0), TimeBudgetMinutes: 30, CreatedAt: created},
		{ID: 2, SubjectID: 1, Day: schedule.Monday, Window: schedule.NewWindow(9, 0, 20, 0), CountBudget: 2, CreatedAt: created.Add(time.Minute)},
	}
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, rules)

	// Each call stays inside the deadline on its own but not together.
	slowButHonest := UsageProviderFunc(func(ctx context.Context, _ string, _ schedule.Window, _ time.Time) (Usage, error) {
		select {
		case <-time.After(40 * time.Millisecond):
			return Usage{Count: 5}, nil
		case <-ctx.Done():
			return Usage{}, ctx.Err()
		}
	})

	d := newEvaluator(idx, slowButHonest, 60*time.Millisecond).Evaluate("com.example.game", monday(12, 0))
	assert.False(t, d.Blocked, "second window ran out of budget and fails open")
	assert.True(t, d.UsageDegraded)
}

func TestEvaluate_FailOpenOnProviderPanic(t *testing.T) {
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{officeRule()})
	boom := UsageProviderFunc(func(context.Context, string, schedule.Window, time.Time) (Usage, error) {
		panic("boom")
	})

	d := newEvaluator(idx, boom, 0).Evaluate("com.example.game", monday(10, 0))
	assert.False(t, d.Blocked)
	assert.True(t, d.UsageDegraded)
}

type panickingSource struct{}

func (panickingSource) Current() *index.Snapshot { panic("snapshot gone") }

func TestEvaluate_InternalPanicAllows(t *testing.T) {
	ev := New(panickingSource{}, nil, Config{Logger: &nopLogger})
	d := ev.Evaluate("com.example.game", monday(10, 0))
	assert.False(t, d.Blocked)
	assert.Equal(t, ReasonEvaluationFailed, d.Reason)
}

func TestEvaluate_NilProviderIsZeroUsage(t *testing.T) {
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{officeRule()})
	d := newEvaluator(idx, nil, 0).Evaluate("com.example.game", monday(10, 0))
	assert.False(t, d.Blocked)
	assert.False(t, d.UsageDegraded)
	assert.Equal(t, ReasonWithinBudget, d.Reason)
}

func TestSetUsageTimeout(t *testing.T) {
	ev := newEvaluator(index.New(), nil, 0)
	assert.Equal(t, DefaultUsageTimeout, ev.UsageTimeout())
	ev.SetUsageTimeout(time.Second)
	assert.Equal(t, time.Second, ev.UsageTimeout())
	ev.SetUsageTimeout(-1)
	assert.Equal(t, DefaultUsageTimeout, ev.UsageTimeout())
}

func TestEvaluate_ConcurrentCallers(t *testing.T) {
	idx := buildIndex(t, []schedule.Subject{gameSubject(true)}, []schedule.Rule{officeRule()})
	fixed := UsageProviderFunc(func(context.Context, string, schedule.Window, time.Time) (Usage, error) {
		return Usage{Minutes: 31}, nil
	})
	ev := newEvaluator(idx, fixed, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !ev.Evaluate("com.example.game", monday(10, 0)).Blocked {
					t.Error("expected block")
					return
				}
			}
		}()
	}
	wg.Wait()
}
