package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
	"github.com/timewave-computer/causality-sub006/internal/smt"
	"github.com/timewave-computer/causality-sub006/internal/store"
	"github.com/timewave-computer/causality-sub006/internal/testutil"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

var (
	ctxBG = context.Background()
	d1    = ids.DomainFromName("D1")
	d2    = ids.DomainFromName("D2")
	rSrc  = ids.ResourceFromName(d1, "R_src")
	rTgt  = ids.ResourceFromName(d2, "R_tgt")
)

type fixture struct {
	clock *testutil.ManualClock
	tree  *smt.Store
	reg   *relationship.Registry
	sync  *relationship.SyncManager
	sched *Scheduler
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	clk := testutil.NewManualClock(time.Time{})
	tree := smt.NewMemory()
	f := &fixture{
		clock: clk,
		tree:  tree,
		reg:   relationship.NewRegistry(),
		sync:  relationship.NewSyncManager(relationship.NewResourceStore(tree), relationship.WithClock(clk)),
	}
	base := []Option{WithClock(clk), WithScanInterval(time.Millisecond)}
	s, err := New(f.reg, f.sync, cfg, append(base, opts...)...)
	require.NoError(t, err)
	f.sched = s
	t.Cleanup(func() { _ = s.Stop() })
	return f
}

func (f *fixture) add(t *testing.T, r *relationship.Relationship) *relationship.Relationship {
	t.Helper()
	_, err := f.reg.Add(r)
	require.NoError(t, err)
	return r
}

func (f *fixture) runOnce(t *testing.T) int {
	t.Helper()
	n, err := f.sched.RunOnce(ctxBG)
	require.NoError(t, err)
	return n
}

func custom(name string, target string) *relationship.Relationship {
	return relationship.New(d1, rSrc, d2, ids.ResourceFromName(d2, target), relationship.Custom(name),
		relationship.WithSync(relationship.OneTimeSync()))
}

func TestMirrorPeriodicThroughScheduler(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	r := f.add(t, relationship.New(d1, rSrc, d2, rTgt, relationship.Mirror,
		relationship.WithSync(relationship.PeriodicSync(60*time.Second))))
	_, err := f.sync.Resources().Write(ctxBG, d1, rSrc, value.NewObject(value.O("balance", value.Int(100))), 1)
	require.NoError(t, err)

	root0 := f.tree.StateRoot()
	assert.Equal(t, 1, f.runOnce(t), "first pass queues r")
	root1 := f.tree.StateRoot()
	assert.NotEqual(t, root0, root1)
	results := f.sched.TaskResults(r.ID)
	require.Len(t, results, 1)
	assert.Equal(t, relationship.ActionCreated, results[0].Result.Metadata["action"])

	f.clock.Advance(30 * time.Second)
	assert.Zero(t, f.runOnce(t), "not due at 30s")
	assert.Empty(t, f.sched.Pending())
	assert.Len(t, f.sched.TaskResults(r.ID), 1)

	f.clock.Advance(35 * time.Second)
	assert.Equal(t, 1, f.runOnce(t))
	results = f.sched.TaskResults(r.ID)
	require.Len(t, results, 2)
	assert.Equal(t, relationship.ActionNoop, results[1].Result.Metadata["action"])
	assert.Equal(t, root1, f.tree.StateRoot())

	st := f.sched.Stats()
	assert.Equal(t, 2, st.Successful)
	assert.Equal(t, 1, st.TotalRelationships)
}

func TestCheckRelationshipsSkipsNotDue(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.add(t, relationship.New(d1, rSrc, d2, rTgt, relationship.Reference))
	f.add(t, relationship.New(d1, rSrc, d2, ids.ResourceFromName(d2, "evented"), relationship.Derived,
		relationship.WithSync(relationship.EventDrivenSync())))
	f.add(t, relationship.New(d1, rSrc, d2, ids.ResourceFromName(d2, "no-sync"), relationship.Mirror))

	assert.Zero(t, f.sched.CheckRelationships(ctxBG))
	assert.Empty(t, f.sched.Pending())
}

func TestRetryBackoffScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBackoff = Exponential(5*time.Second, 2.0, 60*time.Second)
	f := newFixture(t, cfg)
	var calls atomic.Int32
	f.sync.RegisterCustomHandler("flaky", func(context.Context, *relationship.Relationship, relationship.SyncOptions) (relationship.SyncResult, error) {
		calls.Add(1)
		return relationship.SyncResult{}, errs.NewTransient(errs.IO, "test.flaky", "connection reset")
	})
	r := f.add(t, custom("flaky", "R_flaky"))

	f.runOnce(t)
	var delays []time.Duration
	for len(f.sched.Pending()) > 0 {
		next := f.sched.Pending()[0]
		delays = append(delays, next.ExecuteAt.Sub(f.clock.Now()))
		f.clock.Set(next.ExecuteAt)
		f.runOnce(t)
	}

	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, delays)
	assert.Equal(t, int32(4), calls.Load())
	st := f.sched.Stats()
	assert.Equal(t, 4, st.Failed, "initial attempt plus three retries")
	assert.Equal(t, 3, st.Retries)
	assert.Zero(t, st.Successful)

	results := f.sched.TaskResults(r.ID)
	require.Len(t, results, 4)
	for i, res := range results {
		assert.Equal(t, i, res.Task.RetryAttempt)
		assert.Equal(t, results[0].Task.ID, res.Task.ID, "retries keep the task id")
		assert.Equal(t, i < 3, res.Retried)
	}
}

func TestNonTransientFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.sync.RegisterCustomHandler("denied", func(context.Context, *relationship.Relationship, relationship.SyncOptions) (relationship.SyncResult, error) {
		return relationship.SyncResult{}, errs.New(errs.Unauthorized, "test.denied", "bad signature")
	})
	r := f.add(t, custom("denied", "R_denied"))

	f.runOnce(t)
	assert.Empty(t, f.sched.Pending())
	st := f.sched.Stats()
	assert.Equal(t, 1, st.Failed)
	assert.Zero(t, st.Retries)
	results := f.sched.TaskResults(r.ID)
	require.Len(t, results, 1)
	assert.Equal(t, errs.Unauthorized, errs.KindOf(results[0].Err))
}

func TestRetriesDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryFailed = false
	f := newFixture(t, cfg)
	f.sync.RegisterCustomHandler("flaky", func(context.Context, *relationship.Relationship, relationship.SyncOptions) (relationship.SyncResult, error) {
		return relationship.SyncResult{}, errs.NewTransient(errs.Timeout, "test.flaky", "slow")
	})
	f.add(t, custom("flaky", "R_flaky"))

	f.runOnce(t)
	assert.Empty(t, f.sched.Pending())
	assert.Equal(t, 1, f.sched.Stats().Failed)
}

// gate blocks every custom sync until released and tracks peak concurrency.
type gate struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	once    sync.Once
}

func newGate() *gate {
	return &gate{release: make(chan struct{})}
}

func (g *gate) open() {
	g.once.Do(func() { close(g.release) })
}

func (g *gate) handler(ctx context.Context, _ *relationship.Relationship, _ relationship.SyncOptions) (relationship.SyncResult, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-g.release:
		return relationship.Success(map[string]string{"action": "custom"}), nil
	case <-ctx.Done():
		return relationship.SyncResult{}, ctx.Err()
	}
}

func TestMaxConcurrentTasks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentTasks = 2
	f := newFixture(t, cfg)
	g := newGate()
	defer g.open()
	f.sync.RegisterCustomHandler("slow", g.handler)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.add(t, custom("slow", name))
	}

	require.NoError(t, f.sched.Start(ctxBG))
	assert.Eventually(t, func() bool {
		st := f.sched.Stats()
		return st.Active == 2 && st.Pending == 3
	}, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return f.sched.Stats().Active > 2 }, 50*time.Millisecond, time.Millisecond)

	g.open()
	assert.Eventually(t, func() bool { return f.sched.Stats().Successful == 5 }, time.Second, time.Millisecond)
	assert.LessOrEqual(t, g.peak.Load(), int32(2))
	require.NoError(t, f.sched.Stop())
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	assert.Equal(t, Stopped, f.sched.Status())
	assert.Equal(t, errs.InvalidState, errs.KindOf(f.sched.Pause()))
	assert.Equal(t, errs.InvalidState, errs.KindOf(f.sched.Resume()))

	require.NoError(t, f.sched.Start(ctxBG))
	assert.Equal(t, errs.InvalidState, errs.KindOf(f.sched.Start(ctxBG)))
	_, err := f.sched.RunOnce(ctxBG)
	assert.Equal(t, errs.InvalidState, errs.KindOf(err))

	require.NoError(t, f.sched.Pause())
	assert.Equal(t, Paused, f.sched.Status())
	require.NoError(t, f.sched.Resume())
	assert.Equal(t, Running, f.sched.Status())

	require.NoError(t, f.sched.Stop())
	require.NoError(t, f.sched.Stop(), "stop is idempotent")
	assert.Equal(t, Stopped, f.sched.Status())
	require.NoError(t, f.sched.Start(ctxBG), "restart after stop")
}

func TestStartDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	f := newFixture(t, cfg)
	assert.Equal(t, errs.InvalidState, errs.KindOf(f.sched.Start(ctxBG)))
}

func TestPauseFreezesDispatch(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	var calls atomic.Int32
	f.sync.RegisterCustomHandler("count", func(context.Context, *relationship.Relationship, relationship.SyncOptions) (relationship.SyncResult, error) {
		calls.Add(1)
		return relationship.Success(nil), nil
	})
	r := f.add(t, relationship.New(d1, rSrc, d2, rTgt, relationship.Custom("count")))

	require.NoError(t, f.sched.Start(ctxBG))
	require.NoError(t, f.sched.Pause())
	require.NoError(t, f.sched.ScheduleSyncNow(ctxBG, r.ID))
	assert.Never(t, func() bool { return calls.Load() > 0 }, 50*time.Millisecond, time.Millisecond)
	assert.Equal(t, 1, f.sched.Stats().Pending)

	require.NoError(t, f.sched.Resume())
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestStopDrainsInFlight(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	g := newGate()
	f.sync.RegisterCustomHandler("slow", g.handler)
	f.add(t, custom("slow", "a"))

	require.NoError(t, f.sched.Start(ctxBG))
	require.Eventually(t, func() bool { return g.active.Load() == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		_ = f.sched.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("stop returned with a task in flight")
	case <-time.After(30 * time.Millisecond):
	}
	g.open()
	<-stopped
	assert.Equal(t, 1, f.sched.Stats().Successful)
}

func TestScheduleSyncNow(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	r := f.add(t, relationship.New(d1, rSrc, d2, rTgt, relationship.Mirror,
		relationship.WithSync(relationship.PeriodicSync(time.Minute))))

	require.Equal(t, 1, f.sched.CheckRelationships(ctxBG))
	require.NoError(t, f.sched.ScheduleSyncNow(ctxBG, r.ID))
	pending := f.sched.Pending()
	require.Len(t, pending, 1, "coalesced with the queued periodic task")
	assert.Equal(t, PriorityManual, pending[0].Priority)

	err := f.sched.ScheduleSyncNow(ctxBG, relID(99))
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestValidationGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValidateBeforeSync = true
	cfg.ValidationLevel = relationship.Strict
	f := newFixture(t, cfg)
	r := f.add(t, relationship.New(d1, rSrc, d2, rTgt, relationship.Mirror))
	_, err := f.sync.Resources().Write(ctxBG, d1, rSrc, value.Int(1), 1)
	require.NoError(t, err)

	require.NoError(t, f.sched.ScheduleSyncNow(ctxBG, r.ID))
	f.runOnce(t)
	st := f.sched.Stats()
	assert.Equal(t, 1, st.Skipped)
	assert.Zero(t, st.Successful)
	_, ok, err := f.sync.Resources().State(d2, rTgt)
	require.NoError(t, err)
	assert.False(t, ok, "gated relationship never writes")

	cfg.ValidationLevel = relationship.Moderate
	require.NoError(t, f.sched.UpdateConfig(cfg))
	require.NoError(t, f.sched.ScheduleSyncNow(ctxBG, r.ID))
	f.runOnce(t)
	assert.Equal(t, 1, f.sched.Stats().Successful)
}

func TestRemovedRelationshipIsSkipped(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	r := f.add(t, relationship.New(d1, rSrc, d2, rTgt, relationship.Mirror,
		relationship.WithSync(relationship.OneTimeSync())))
	require.Equal(t, 1, f.sched.CheckRelationships(ctxBG))
	require.NoError(t, f.reg.Remove(r.ID))

	f.runOnce(t)
	results := f.sched.TaskResults(r.ID)
	require.Len(t, results, 1)
	assert.Equal(t, relationship.StatusSkipped, results[0].Result.Status)
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	bad := DefaultConfig()
	bad.MaxConcurrentTasks = 0
	assert.Error(t, f.sched.UpdateConfig(bad))
	assert.Equal(t, 10, f.sched.Config().MaxConcurrentTasks)

	_, err := New(f.reg, f.sync, bad)
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestTaskLogAndObserver(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var seen []TaskResult
	var mu sync.Mutex
	f := newFixture(t, DefaultConfig(), WithTaskLog(db), WithObserver(func(res TaskResult) {
		mu.Lock()
		seen = append(seen, res)
		mu.Unlock()
	}))
	f.sync.RegisterCustomHandler("ok", func(context.Context, *relationship.Relationship, relationship.SyncOptions) (relationship.SyncResult, error) {
		return relationship.Success(nil), nil
	})
	r := f.add(t, custom("ok", "R_ok"))

	f.runOnce(t)
	recs, err := db.Tasks(ctxBG, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, r.ID, recs[0].RelationshipID)
	assert.Equal(t, TaskSucceeded, recs[0].Status)
	assert.Equal(t, 1, recs[0].Attempts)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, recs[0].ID, seen[0].Task.ID)
}
