package load

import (
	"context"
	"time"

	"github.com/strata3d/engine/internal/lifecycle"
	"go.uber.org/zap"
)

// staggerStep offsets successive load requests in a batch so a scope sweep
// does not burst simultaneous fetches into the same datasource.
const staggerStep = 10 * time.Millisecond

// persistentRef reference-counts a shared persistent across scopes.
type persistentRef struct {
	p     *Persistent
	count int
}

// Loader owns the load scopes of one layer and the persistents they fetched.
// Persistents may be shared between scopes and are released when the last
// referencing scope lets go. Ownership flows one way: the loader owns
// scopes, scopes reference but do not own persistents.
// Single-goroutine access only (update loop).
type Loader struct {
	lifecycle.State

	name   string
	source Datasource
	clock  Clock
	ctx    context.Context

	coordinator *lifecycle.Coordinator

	scopes map[ScopeKey]*Scope
	refs   map[string]*persistentRef // record key → shared persistent

	// wanted is the current in-list scope set maintained by the layer;
	// UpdateLoadScopes reconciles scopes against it.
	wanted map[ScopeKey]bool

	autoDisposeUnused bool

	reloadInterval time.Duration
	settleDelay    time.Duration
	cancelSettle   func()
	cancelPeriodic func()

	log *zap.Logger
}

func NewLoader(name string, source Datasource, clock Clock, coord *lifecycle.Coordinator, log *zap.Logger) *Loader {
	return &Loader{
		State:       lifecycle.NewState(),
		name:        name,
		source:      source,
		clock:       clock,
		ctx:         context.Background(),
		coordinator: coord,
		scopes:      make(map[ScopeKey]*Scope),
		refs:        make(map[string]*persistentRef),
		wanted:      make(map[ScopeKey]bool),
		log:         log,
	}
}

func (l *Loader) Name() string { return l.name }

func (l *Loader) Kind() string { return "loader" }

// SetAutoDisposeUnused controls whether UpdateLoadScopes disposes scopes
// that fell out of the wanted set.
func (l *Loader) SetAutoDisposeUnused(v bool) { l.autoDisposeUnused = v }

// ScopeCount returns the number of live scopes.
func (l *Loader) ScopeCount() int { return len(l.scopes) }

// PersistentCount returns the number of distinct persistents held.
func (l *Loader) PersistentCount() int { return len(l.refs) }

// GetScope returns the scope for key, or nil.
func (l *Loader) GetScope(key ScopeKey) *Scope { return l.scopes[key] }

// Scopes snapshots the live scopes.
func (l *Loader) Scopes() []*Scope {
	out := make([]*Scope, 0, len(l.scopes))
	for _, s := range l.scopes {
		out = append(out, s)
	}
	return out
}

// SetWantedScopes replaces the in-list scope set.
func (l *Loader) SetWantedScopes(keys []ScopeKey) {
	l.wanted = make(map[ScopeKey]bool, len(keys))
	for _, k := range keys {
		l.wanted[k] = true
	}
}

// UpdateLoadScopes reconciles scopes against the wanted set: missing scopes
// are created and loaded (staggered by +10 ms per new scope), and when
// autoDispose is set, scopes no longer in the list are disposed and removed
// from the scope table.
func (l *Loader) UpdateLoadScopes(autoDispose bool) {
	if !l.LifecycleState().Live() {
		return
	}
	if autoDispose || l.autoDisposeUnused {
		for key, s := range l.scopes {
			if l.wanted[key] {
				continue
			}
			delete(l.scopes, key)
			l.coordinator.Dispose(s, lifecycle.ContextDestroy, lifecycle.DelayNone)
		}
	}
	i := 0
	for key := range l.wanted {
		if _, ok := l.scopes[key]; ok {
			continue
		}
		s := newScope(l, key)
		l.scopes[key] = s
		s.Load(time.Duration(i) * staggerStep)
		i++
	}
}

// ReloadAll re-runs every scope's load, staggered.
func (l *Loader) ReloadAll() {
	if !l.LifecycleState().Live() {
		return
	}
	i := 0
	for _, s := range l.scopes {
		s.Load(time.Duration(i) * staggerStep)
		i++
	}
}

// RetriggerCompromised reloads only scopes whose load silently died
// (LoadingWasCompromised), e.g. after a hot reload.
func (l *Loader) RetriggerCompromised() int {
	n := 0
	for _, s := range l.scopes {
		if s.LoadingWasCompromised() {
			s.Load(time.Duration(n) * staggerStep)
			n++
		}
	}
	return n
}

// EnableAutoReload re-runs all scopes every interval. The timer reschedules
// itself on the tick clock.
func (l *Loader) EnableAutoReload(interval, settle time.Duration) {
	l.reloadInterval = interval
	l.settleDelay = settle
	if l.cancelPeriodic != nil {
		l.cancelPeriodic()
		l.cancelPeriodic = nil
	}
	if interval <= 0 {
		return
	}
	var schedule func()
	schedule = func() {
		l.cancelPeriodic = l.clock.After(interval, func() {
			if !l.LifecycleState().Live() {
				return
			}
			l.ReloadAll()
			schedule()
		})
	}
	schedule()
}

// NotifyChanged coalesces rapid successive change notifications into one
// reload: each call restarts the settle timer, and only after the source
// stays quiet for the settle delay does the reload run.
func (l *Loader) NotifyChanged() {
	if !l.LifecycleState().Live() {
		return
	}
	if l.cancelSettle != nil {
		l.cancelSettle()
	}
	delay := l.settleDelay
	if delay <= 0 {
		delay = staggerStep
	}
	l.cancelSettle = l.clock.After(delay, func() {
		l.cancelSettle = nil
		l.ReloadAll()
	})
}

// reconcile replaces a scope's held persistent set with the freshly fetched
// records: dropped records are released (and disposed when no other scope
// references them), new ones are attached, shared ones get their reference
// bumped, and changed ones have the new content applied. Unchanged
// revisions are skipped.
func (l *Loader) reconcile(s *Scope, records []Record) {
	incoming := make(map[string]Record, len(records))
	for _, rec := range records {
		if rec.Key == "" {
			continue
		}
		incoming[rec.Key] = rec
	}

	for id, p := range s.persistents {
		if _, keep := incoming[p.SourceKey()]; keep {
			continue
		}
		delete(s.persistents, id)
		l.release(p)
	}

	for key, rec := range incoming {
		if ref, ok := l.refs[key]; ok {
			p := ref.p
			if _, held := s.persistents[p.InstanceID()]; !held {
				ref.count++
				s.persistents[p.InstanceID()] = p
			}
			if !p.UpToDate(rec) {
				p.ApplyRecord(rec)
			}
			continue
		}

		p := l.allocPersistent(rec)
		reg := l.coordinator.Registry()
		if reg != nil && !reg.Add(lifecycle.CategoryPersistent, p) {
			l.coordinator.Dispose(p, lifecycle.ContextDestroy, lifecycle.DelayNone)
			continue
		}
		l.refs[key] = &persistentRef{p: p, count: 1}
		s.persistents[p.InstanceID()] = p
	}
}

// allocPersistent reuses a pooled persistent of the record's kind when one
// is available.
func (l *Loader) allocPersistent(rec Record) *Persistent {
	pool := l.coordinator.Pool()
	if pool != nil {
		probe := &Persistent{}
		probe.kind = rec.Kind
		if inst := pool.GetFromPool(probe.Kind()); inst != nil {
			if p, ok := inst.(*Persistent); ok {
				p.ApplyRecord(rec)
				return p
			}
			l.coordinator.Dispose(inst, lifecycle.ContextDestroy, lifecycle.DelayNone)
		}
	}
	return NewPersistent(rec)
}

// release drops one scope's reference; the last reference disposes the
// persistent (deferred, so it never interleaves with a traversal) and
// forgets it.
func (l *Loader) release(p *Persistent) {
	ref, ok := l.refs[p.SourceKey()]
	if !ok || ref.p != p {
		return
	}
	ref.count--
	if ref.count > 0 {
		return
	}
	delete(l.refs, p.SourceKey())
	l.coordinator.Dispose(p, lifecycle.ContextPool, lifecycle.Delayed)
}

// forget drops a scope that disposed on its own from the scope table.
func (l *Loader) forget(s *Scope) {
	if cur, ok := l.scopes[s.key]; ok && cur == s {
		delete(l.scopes, s.key)
	}
}

// releaseAll detaches every persistent a disposing scope still holds.
func (l *Loader) releaseAll(s *Scope) {
	for id, p := range s.persistents {
		delete(s.persistents, id)
		l.release(p)
	}
}

// OnDisposing kills every scope's in-flight load, then accepts disposal.
// The scopes themselves are disposed by the coordinator's bottom-up walk.
func (l *Loader) OnDisposing() bool {
	for _, s := range l.scopes {
		s.KillLoading()
	}
	if l.cancelSettle != nil {
		l.cancelSettle()
		l.cancelSettle = nil
	}
	if l.cancelPeriodic != nil {
		l.cancelPeriodic()
		l.cancelPeriodic = nil
	}
	return true
}

// OnDisposed clears the scope table.
func (l *Loader) OnDisposed(lifecycle.DisposeContext) {
	l.scopes = nil
	l.refs = nil
}

// DisposableChildren exposes the owned scopes to the dispose coordinator.
func (l *Loader) DisposableChildren() []lifecycle.Disposable {
	out := make([]lifecycle.Disposable, 0, len(l.scopes))
	for _, s := range l.scopes {
		out = append(out, s)
	}
	return out
}
