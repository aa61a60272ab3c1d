// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/timegate/internal/evaluator"
	"github.com/ManuGH/timegate/internal/schedule"
	"github.com/ManuGH/timegate/internal/store"
	"github.com/ManuGH/timegate/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var officeHours = schedule.NewWindow(9, 0, 17, 0)

// 2025-03-03 is a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2025, time.March, 3, hour, minute, 0, 0, time.UTC)
}

func fastConfig() Config {
	return Config{
		MinInterval: time.Millisecond,
		RetryBase:   5 * time.Millisecond,
		RetryMax:    20 * time.Millisecond,
	}
}

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	subj, err := s.UpsertSubject(ctx, schedule.Subject{Key: "com.example.game", Enabled: true})
	require.NoError(t, err)
	_, err = s.CreateRules(ctx, []schedule.Rule{{
		SubjectID:         subj.ID,
		Day:               schedule.Monday,
		Window:            officeHours,
		TimeBudgetMinutes: 30,
		CreatedAt:         time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	return s
}

func fixedUsage(minutes, count int) evaluator.UsageProvider {
	return evaluator.UsageProviderFunc(func(context.Context, string, schedule.Window, time.Time) (evaluator.Usage, error) {
		return evaluator.Usage{Minutes: minutes, Count: count}, nil
	})
}

// flakyStore fails ListEnabledRules while fail is set.
type flakyStore struct {
	store.RuleStore
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyStore) ListEnabledRules(ctx context.Context) ([]schedule.Rule, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("database is locked")
	}
	return f.RuleStore.ListEnabledRules(ctx)
}

func runEngine(t *testing.T, e *Engine) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestEngine_EvaluateBeforeRebuildAllows(t *testing.T) {
	e := New(seedStore(t), fixedUsage(100, 0), fastConfig())

	assert.ErrorIs(t, e.Healthy(), ErrNotStarted)
	d := e.Evaluate("com.example.game", monday(10, 0))
	assert.False(t, d.Blocked)
	assert.Equal(t, evaluator.ReasonSubjectUnknown, d.Reason)
}

func TestEngine_RebuildNowThenEvaluate(t *testing.T) {
	e := New(seedStore(t), fixedUsage(35, 1), fastConfig())

	snap, err := e.RebuildNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version())
	assert.NoError(t, e.Healthy())

	d := e.Evaluate("com.example.game", monday(10, 0))
	assert.True(t, d.Blocked)
	assert.Equal(t, evaluator.ReasonTimeBudgetExceeded, d.Reason)
	require.NotNil(t, d.Rule)
	assert.Equal(t, 30, d.Rule.TimeBudgetMinutes)

	st := e.Stats()
	assert.Equal(t, 1, st.Subjects)
	assert.Equal(t, 1, st.Rules)
	assert.Empty(t, st.LastError)
	assert.False(t, st.Running)
}

func TestEngine_DisableTakesEffectOnRebuild(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	e := New(s, fixedUsage(35, 1), fastConfig())
	_, err := e.RebuildNow(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetSubjectEnabled(ctx, "com.example.game", false))
	// The live snapshot still holds the enabled record.
	assert.True(t, e.Evaluate("com.example.game", monday(10, 0)).Blocked)

	_, err = e.RebuildNow(ctx)
	require.NoError(t, err)
	d := e.Evaluate("com.example.game", monday(10, 0))
	assert.False(t, d.Blocked)
	assert.Nil(t, d.Rule)
}

func TestEngine_RunPicksUpNotifications(t *testing.T) {
	s := seedStore(t)
	e := New(s, fixedUsage(0, 0), fastConfig())
	stop := runEngine(t, e)
	defer stop()

	select {
	case <-e.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("initial rebuild did not complete")
	}
	assert.True(t, e.Stats().Running)

	require.NoError(t, s.SetSubjectEnabled(context.Background(), "com.example.game", false))
	e.NotifyRulesChanged()

	assert.Eventually(t, func() bool {
		return e.Snapshot().Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, e.Index().Lookup("com.example.game"))
}

func TestEngine_NotifyNeverBlocks(t *testing.T) {
	e := New(seedStore(t), nil, fastConfig())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			e.NotifyRulesChanged()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyRulesChanged blocked without a running worker")
	}
}

func TestEngine_NotificationBurstCoalesces(t *testing.T) {
	fs := &flakyStore{RuleStore: seedStore(t)}
	cfg := fastConfig()
	cfg.MinInterval = 50 * time.Millisecond
	e := New(fs, nil, cfg)
	stop := runEngine(t, e)
	defer stop()

	<-e.Ready()
	for i := 0; i < 100; i++ {
		e.NotifyRulesChanged()
	}
	assert.Eventually(t, func() bool { return e.Snapshot().Version() >= 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	// Startup plus at most two rebuilds for the burst.
	assert.LessOrEqual(t, fs.calls.Load(), int32(3))
}

func TestEngine_FailedRebuildKeepsSnapshotAndRetries(t *testing.T) {
	fs := &flakyStore{RuleStore: seedStore(t)}
	e := New(fs, fixedUsage(35, 0), fastConfig())

	_, err := e.RebuildNow(context.Background())
	require.NoError(t, err)

	fs.fail.Store(true)
	_, err = e.RebuildNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(1), e.Snapshot().Version())
	assert.Contains(t, e.Stats().LastError, "database is locked")
	assert.True(t, e.Evaluate("com.example.game", monday(10, 0)).Blocked)

	stop := runEngine(t, e)
	defer stop()

	// Startup attempt fails; retries continue until the store recovers.
	assert.Eventually(t, func() bool { return fs.calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), e.Snapshot().Version())

	fs.fail.Store(false)
	assert.Eventually(t, func() bool {
		return e.Snapshot().Version() >= 2 && e.Stats().LastError == ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_ResyncWithoutNotification(t *testing.T) {
	s := seedStore(t)
	cfg := fastConfig()
	cfg.ResyncInterval = 20 * time.Millisecond
	e := New(s, nil, cfg)
	stop := runEngine(t, e)
	defer stop()

	<-e.Ready()
	chat, err := s.UpsertSubject(context.Background(), schedule.Subject{Key: "com.example.chat", Enabled: true})
	require.NoError(t, err)
	_, err = s.CreateRules(context.Background(), []schedule.Rule{{SubjectID: chat.ID, Day: schedule.Tuesday, Window: officeHours, CountBudget: 3}})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return e.Snapshot().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_RunTwice(t *testing.T) {
	e := New(seedStore(t), nil, fastConfig())
	stop := runEngine(t, e)
	defer stop()

	assert.Eventually(t, func() bool { return e.Stats().Running }, time.Second, time.Millisecond)
	assert.ErrorIs(t, e.Run(context.Background()), ErrAlreadyRunning)
}

func TestEngine_RebuildNowConcurrent(t *testing.T) {
	e := New(seedStore(t), nil, fastConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RebuildNow(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, e.Snapshot().Version(), uint64(1))
	assert.LessOrEqual(t, e.Snapshot().Version(), uint64(16))
}

func TestEngine_AuthorRules(t *testing.T) {
	s := seedStore(t)
	e := New(s, nil, fastConfig())
	ctx := context.Background()

	created, err := e.AuthorRules(ctx, "com.example.game", schedule.Weekend(), schedule.NewWindow(22, 0, 6, 0), schedule.Budget{Count: 2})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, schedule.Saturday, created[0].Day)
	assert.Equal(t, schedule.Sunday, created[1].Day)
	for _, r := range created {
		assert.NotZero(t, r.ID)
		assert.Equal(t, 2, r.CountBudget)
	}

	// A rebuild is pending.
	select {
	case <-e.trigger:
	default:
		t.Fatal("AuthorRules did not schedule a rebuild")
	}

	_, err = e.AuthorRules(ctx, "missing", schedule.Workday(), officeHours, schedule.Budget{})
	assert.ErrorIs(t, err, store.ErrSubjectNotFound)

	_, err = e.AuthorRules(ctx, "com.example.game", schedule.Custom(), officeHours, schedule.Budget{})
	assert.ErrorIs(t, err, schedule.ErrValidation)

	subj, _, err := s.SubjectByKey(ctx, "com.example.game")
	require.NoError(t, err)
	rules, err := s.RulesForSubject(ctx, subj.ID)
	require.NoError(t, err)
	assert.Len(t, rules, 3)
}

func TestEngine_ExpandStampsCreatedAt(t *testing.T) {
	e := New(store.NewMemory(), nil, fastConfig())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return at }

	rules, err := e.Expand(schedule.Workday(), officeHours, schedule.Budget{TimeMinutes: 60}, 7)
	require.NoError(t, err)
	require.Len(t, rules, 5)
	for _, r := range rules {
		assert.Equal(t, at, r.CreatedAt)
		assert.Equal(t, int64(7), r.SubjectID)
	}
}

func TestEngine_Coverage(t *testing.T) {
	s := seedStore(t)
	e := New(s, nil, fastConfig())

	grid, err := e.SubjectCoverage(context.Background(), "com.example.game")
	require.NoError(t, err)
	assert.Equal(t, []int{9, 10, 11, 12, 13, 14, 15, 16, 17}, grid.Hours(schedule.Monday))
	assert.Equal(t, 9, grid.Count())

	grid, err = e.SubjectCoverage(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, grid.Count())

	night := e.BuildCoverageGrid([]schedule.Rule{{Day: schedule.Monday, Window: schedule.NewWindow(22, 0, 6, 0)}})
	assert.Equal(t, []int{22, 23}, night.Hours(schedule.Monday))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, night.Hours(schedule.Tuesday))
}

func TestEngine_RebuildSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	e := New(seedStore(t), nil, fastConfig())
	_, err := e.RebuildNow(context.Background())
	require.NoError(t, err)

	spans := sr.Ended()
	require.NotEmpty(t, spans)
	last := spans[len(spans)-1]
	assert.Equal(t, "index.rebuild", last.Name())
	assert.Contains(t, last.Attributes(), attribute.String(telemetry.RebuildTriggerKey, "manual"))
	assert.Contains(t, last.Attributes(), attribute.Int(telemetry.IndexRulesKey, 1))
}

func TestNextBackoff(t *testing.T) {
	base, max := 10*time.Millisecond, 35*time.Millisecond
	d := nextBackoff(0, base, max)
	assert.Equal(t, base, d)
	d = nextBackoff(d, base, max)
	assert.Equal(t, 20*time.Millisecond, d)
	d = nextBackoff(d, base, max)
	assert.Equal(t, max, d)
	assert.Equal(t, max, nextBackoff(d, base, max))
}
