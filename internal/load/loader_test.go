package load

import (
	"context"
	"testing"
	"time"

	"github.com/strata3d/engine/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock drives loader timers deterministically.
type fakeClock struct {
	now    time.Duration
	posted []func()
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline  time.Duration
	fn        func()
	cancelled bool
}

func (c *fakeClock) Post(fn func()) { c.posted = append(c.posted, fn) }

func (c *fakeClock) After(d time.Duration, fn func()) func() {
	t := &fakeTimer{deadline: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return func() { t.cancelled = true }
}

func (c *fakeClock) advance(d time.Duration) {
	c.now += d
	due := make([]*fakeTimer, 0)
	kept := c.timers[:0]
	for _, t := range c.timers {
		if t.cancelled {
			continue
		}
		if t.deadline <= c.now {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	c.timers = kept
	for _, t := range due {
		if !t.cancelled {
			t.fn()
		}
	}
}

// fakeSource records fetches and lets tests complete them manually.
type fakeSource struct {
	fetches []*fakeFetch
}

type fakeFetch struct {
	key      ScopeKey
	complete func(Result)
	op       *fakeOp
}

type fakeOp struct {
	cancelled bool
	done      bool
}

func (o *fakeOp) Cancel()    { o.cancelled = true }
func (o *fakeOp) Done() bool { return o.done }

func (s *fakeSource) Fetch(_ context.Context, key ScopeKey, complete func(Result)) Operation {
	f := &fakeFetch{key: key, complete: complete, op: &fakeOp{}}
	s.fetches = append(s.fetches, f)
	return f.op
}

func (s *fakeSource) Close() error { return nil }

func (f *fakeFetch) finish(res Result) {
	f.op.done = true
	f.complete(res)
}

func record(key, name, kind string, rev byte) Record {
	return Record{
		Key:        key,
		Name:       name,
		Kind:       kind,
		Properties: map[string]any{"k": name},
		Revision:   []byte{rev},
	}
}

type loaderFixture struct {
	coord  *lifecycle.Coordinator
	clock  *fakeClock
	source *fakeSource
	loader *Loader
}

func newLoaderFixture(t *testing.T) *loaderFixture {
	t.Helper()
	log := zap.NewNop()
	coord := lifecycle.NewCoordinator(lifecycle.NewPool(log), lifecycle.NewRegistry(log), log)
	clock := &fakeClock{}
	source := &fakeSource{}
	l := NewLoader("terrain", source, clock, coord, log)
	require.True(t, coord.Registry().Add(lifecycle.CategoryManager, l))
	return &loaderFixture{coord: coord, clock: clock, source: source, loader: l}
}

func keys(n int) []ScopeKey {
	out := make([]ScopeKey, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ScopeKey{Layer: "terrain", Level: 3, X: i, Y: 0})
	}
	return out
}

func TestUpdateLoadScopesStaggersLoads(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(3))
	fx.loader.UpdateLoadScopes(false)

	require.Equal(t, 3, fx.loader.ScopeCount())
	// Only the first scope of the sweep fetches immediately; the rest sit on
	// staggered interval timers.
	assert.Len(t, fx.source.fetches, 1)

	fx.clock.advance(10 * time.Millisecond)
	assert.Len(t, fx.source.fetches, 2)

	fx.clock.advance(10 * time.Millisecond)
	assert.Len(t, fx.source.fetches, 3)
}

func TestScopeStateMachine(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)

	s := fx.loader.GetScope(keys(1)[0])
	require.NotNil(t, s)
	assert.Equal(t, StateLoading, s.LoadingState())

	fx.source.fetches[0].finish(Result{Records: []Record{
		record("terrain/a", "ridge", "elevation", 1),
	}})

	assert.Equal(t, StateLoaded, s.LoadingState())
	assert.Equal(t, 1, s.PersistentCount())
	assert.Equal(t, 1, fx.coord.Registry().Count(lifecycle.CategoryPersistent))
}

func TestScopeFailure(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)

	s := fx.loader.GetScope(keys(1)[0])
	fx.source.fetches[0].finish(Result{Err: assert.AnError})

	assert.Equal(t, StateFailed, s.LoadingState())
	assert.Equal(t, 0, s.PersistentCount())
}

func TestKillLoadingInterrupts(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)

	s := fx.loader.GetScope(keys(1)[0])
	require.Equal(t, StateLoading, s.LoadingState())

	s.KillLoading()
	assert.Equal(t, StateInterrupted, s.LoadingState())
	assert.True(t, fx.source.fetches[0].op.cancelled)

	// The cancelled completion must not resurrect the scope.
	fx.source.fetches[0].finish(Result{Records: []Record{
		record("terrain/a", "ridge", "elevation", 1),
	}})
	assert.Equal(t, StateInterrupted, s.LoadingState())
	assert.Equal(t, 0, s.PersistentCount())
}

func TestKillLoadingLeavesSettledScopesAlone(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)

	s := fx.loader.GetScope(keys(1)[0])
	fx.source.fetches[0].finish(Result{})
	require.Equal(t, StateLoaded, s.LoadingState())

	s.KillLoading()
	assert.Equal(t, StateLoaded, s.LoadingState())
}

func TestCompromisedDetectionAndRetrigger(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)

	s := fx.loader.GetScope(keys(1)[0])
	s.KillLoading()
	require.True(t, s.LoadingWasCompromised())

	assert.Equal(t, 1, fx.loader.RetriggerCompromised())
	assert.Equal(t, StateLoading, s.LoadingState())
	assert.False(t, s.LoadingWasCompromised())

	// A healthy loading scope is never reported compromised.
	assert.Equal(t, 0, fx.loader.RetriggerCompromised())
}

func TestSequentialLoadsDropStaleCompletion(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)

	s := fx.loader.GetScope(keys(1)[0])
	s.Load(0)
	require.Len(t, fx.source.fetches, 2)
	assert.True(t, fx.source.fetches[0].op.cancelled)

	// The first fetch raced the cancel and completes anyway: dropped.
	fx.source.fetches[0].finish(Result{Records: []Record{
		record("terrain/stale", "stale", "elevation", 1),
	}})
	assert.Equal(t, StateLoading, s.LoadingState())
	assert.Equal(t, 0, s.PersistentCount())

	fx.source.fetches[1].finish(Result{Records: []Record{
		record("terrain/fresh", "fresh", "elevation", 2),
	}})
	assert.Equal(t, StateLoaded, s.LoadingState())
	require.Equal(t, 1, s.PersistentCount())
	assert.Equal(t, "fresh", s.Persistents()[0].Name())
}

func TestSharedPersistentRefcount(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(2))
	fx.loader.UpdateLoadScopes(false)
	fx.clock.advance(10 * time.Millisecond)
	require.Len(t, fx.source.fetches, 2)

	shared := record("terrain/shared", "shared", "elevation", 1)
	fx.source.fetches[0].finish(Result{Records: []Record{shared}})
	fx.source.fetches[1].finish(Result{Records: []Record{shared}})

	// One instance, referenced by both scopes.
	assert.Equal(t, 1, fx.loader.PersistentCount())
	scopes := fx.loader.Scopes()
	require.Len(t, scopes, 2)
	assert.Same(t, scopes[0].Persistents()[0], scopes[1].Persistents()[0])
	p := scopes[0].Persistents()[0]

	// Dropping one scope keeps the persistent alive.
	fx.coord.Dispose(scopes[0], lifecycle.ContextDestroy, lifecycle.DelayNone)
	fx.coord.DrainDelayed()
	assert.True(t, p.LifecycleState().Live())
	assert.Equal(t, 1, fx.loader.PersistentCount())

	// Dropping the last reference begins teardown immediately but defers the
	// pool handoff to the delayed-dispose drain.
	fx.coord.Dispose(scopes[1], lifecycle.ContextDestroy, lifecycle.DelayNone)
	assert.True(t, p.LifecycleState().Disposing())
	assert.False(t, p.Pooled())
	fx.coord.DrainDelayed()
	assert.True(t, p.Pooled())
	assert.Equal(t, 0, fx.loader.PersistentCount())
}

func TestReconcileSkipsUnchangedRevisions(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)

	s := fx.loader.GetScope(keys(1)[0])
	fx.source.fetches[0].finish(Result{Records: []Record{
		record("terrain/a", "before", "elevation", 7),
	}})
	require.Equal(t, "before", s.Persistents()[0].Name())

	// Same revision, different payload: the apply is skipped entirely.
	s.Load(0)
	fx.source.fetches[1].finish(Result{Records: []Record{
		record("terrain/a", "after", "elevation", 7),
	}})
	assert.Equal(t, "before", s.Persistents()[0].Name())

	// A new revision is applied in place on the same instance.
	p := s.Persistents()[0]
	s.Load(0)
	fx.source.fetches[2].finish(Result{Records: []Record{
		record("terrain/a", "after", "elevation", 8),
	}})
	assert.Same(t, p, s.Persistents()[0])
	assert.Equal(t, "after", p.Name())
}

func TestAutoDisposeUnwantedScopes(t *testing.T) {
	fx := newLoaderFixture(t)
	all := keys(2)
	fx.loader.SetWantedScopes(all)
	fx.loader.UpdateLoadScopes(false)
	fx.clock.advance(10 * time.Millisecond)

	fx.source.fetches[0].finish(Result{Records: []Record{record("terrain/a", "a", "elevation", 1)}})
	fx.source.fetches[1].finish(Result{Records: []Record{record("terrain/b", "b", "elevation", 2)}})
	require.Equal(t, 2, fx.loader.PersistentCount())

	keep := fx.loader.GetScope(all[0])
	drop := fx.loader.GetScope(all[1])

	fx.loader.SetWantedScopes(all[:1])
	fx.loader.UpdateLoadScopes(true)

	assert.Equal(t, 1, fx.loader.ScopeCount())
	assert.Same(t, keep, fx.loader.GetScope(all[0]))
	assert.Nil(t, fx.loader.GetScope(all[1]))
	assert.True(t, drop.Disposed())

	// The dropped scope's persistent goes with it once deferred work runs.
	fx.coord.DrainDelayed()
	assert.Equal(t, 1, fx.loader.PersistentCount())
}

func TestNotifyChangedDebounces(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)
	fx.source.fetches[0].finish(Result{})
	require.Len(t, fx.source.fetches, 1)

	fx.loader.EnableAutoReload(0, 50*time.Millisecond)

	// A burst of notifications coalesces into a single reload.
	fx.loader.NotifyChanged()
	fx.clock.advance(20 * time.Millisecond)
	fx.loader.NotifyChanged()
	fx.clock.advance(20 * time.Millisecond)
	fx.loader.NotifyChanged()
	assert.Len(t, fx.source.fetches, 1)

	fx.clock.advance(50 * time.Millisecond)
	assert.Len(t, fx.source.fetches, 2)

	// Quiet afterwards: no further reloads.
	fx.clock.advance(200 * time.Millisecond)
	assert.Len(t, fx.source.fetches, 2)
}

func TestPeriodicAutoReload(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)
	fx.source.fetches[0].finish(Result{})

	fx.loader.EnableAutoReload(100*time.Millisecond, 0)

	fx.clock.advance(100 * time.Millisecond)
	assert.Len(t, fx.source.fetches, 2)
	fx.source.fetches[1].finish(Result{})

	// The timer reschedules itself.
	fx.clock.advance(100 * time.Millisecond)
	assert.Len(t, fx.source.fetches, 3)
}

func TestLoaderDisposeTearsDownScopesAndPersistents(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)

	s := fx.loader.GetScope(keys(1)[0])
	fx.source.fetches[0].finish(Result{Records: []Record{record("terrain/a", "a", "elevation", 1)}})
	p := s.Persistents()[0]

	fx.coord.Dispose(fx.loader, lifecycle.ContextDestroy, lifecycle.DelayNone)
	fx.coord.DrainDelayed()

	assert.True(t, fx.loader.Disposed())
	assert.True(t, s.Disposed())
	assert.False(t, p.LifecycleState().Live())
	assert.Equal(t, 0, fx.coord.Registry().Count(lifecycle.CategoryPersistent))
}

func TestStaleCompletionAfterDisposeIsDropped(t *testing.T) {
	fx := newLoaderFixture(t)
	fx.loader.SetWantedScopes(keys(1))
	fx.loader.UpdateLoadScopes(false)

	s := fx.loader.GetScope(keys(1)[0])
	fx.coord.Dispose(fx.loader, lifecycle.ContextDestroy, lifecycle.DelayNone)

	// The in-flight completion lands after teardown and must be ignored.
	fx.source.fetches[0].finish(Result{Records: []Record{record("terrain/a", "a", "elevation", 1)}})
	assert.Equal(t, 0, s.PersistentCount())
}

func TestPersistentKindIsNamespaced(t *testing.T) {
	p := NewPersistent(record("terrain/a", "a", "elevation", 1))
	assert.Equal(t, "persistent/elevation", p.Kind())
	assert.Equal(t, "elevation", p.RecordKind())
}
