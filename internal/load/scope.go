package load

import (
	"time"

	"github.com/google/uuid"
	"github.com/strata3d/engine/internal/lifecycle"
	"go.uber.org/zap"
)

// LoadingState is the per-scope fetch state machine.
type LoadingState int

const (
	StateNone LoadingState = iota
	StateInterval
	StateLoading
	StateLoaded
	StateFailed
	StateInterrupted
)

func (s LoadingState) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateInterval:
		return "Interval"
	case StateLoading:
		return "Loading"
	case StateLoaded:
		return "Loaded"
	case StateFailed:
		return "Failed"
	case StateInterrupted:
		return "Interrupted"
	default:
		return "Invalid"
	}
}

// Scope tracks one in-flight or completed fetch for a data unit and owns
// references to the persistents it produced. At most one datasource
// operation is live per scope; starting a new load cancels any prior
// operation and pending interval timer first.
type Scope struct {
	lifecycle.State

	loader *Loader
	key    ScopeKey

	loading     LoadingState
	op          Operation
	cancelTimer func()

	// generation guards stale completions: timers and fetch callbacks
	// carry the generation they were started under and no-op on mismatch.
	generation int

	initialized bool

	persistents map[uuid.UUID]*Persistent
}

func newScope(l *Loader, key ScopeKey) *Scope {
	return &Scope{
		State:       lifecycle.NewState(),
		loader:      l,
		key:         key,
		persistents: make(map[uuid.UUID]*Persistent),
	}
}

// Key returns the scope's tile address.
func (s *Scope) Key() ScopeKey { return s.key }

// LoadingState returns the fetch state.
func (s *Scope) LoadingState() LoadingState { return s.loading }

// Kind names the scope for pool/singleton purposes; scopes are not pooled.
func (s *Scope) Kind() string { return "loadscope" }

// Persistents snapshots the persistents currently held by this scope.
func (s *Scope) Persistents() []*Persistent {
	out := make([]*Persistent, 0, len(s.persistents))
	for _, p := range s.persistents {
		out = append(out, p)
	}
	return out
}

// PersistentCount returns how many persistents the scope holds.
func (s *Scope) PersistentCount() int { return len(s.persistents) }

// Load starts a fetch after the given interval delay. Any prior pending
// timer or in-flight operation is cancelled first, so two back-to-back Load
// calls can never produce two completions.
func (s *Scope) Load(interval time.Duration) {
	if !s.LifecycleState().Live() {
		return
	}
	s.cancelPending()
	s.initialized = true
	if interval <= 0 {
		s.startLoading()
		return
	}
	s.loading = StateInterval
	gen := s.generation
	s.cancelTimer = s.loader.clock.After(interval, func() {
		if gen != s.generation || !s.LifecycleState().Live() {
			return
		}
		s.cancelTimer = nil
		s.loading = StateNone
		s.startLoading()
	})
}

func (s *Scope) startLoading() {
	s.loading = StateLoading
	gen := s.generation
	s.op = s.loader.source.Fetch(s.loader.ctx, s.key, func(res Result) {
		// Runs on the update goroutine. A completion that outlived a cancel
		// or a newer load must not mutate the scope.
		if gen != s.generation || !s.LifecycleState().Live() {
			return
		}
		s.op = nil
		if res.Err != nil {
			s.loading = StateFailed
			if s.loader.log != nil {
				s.loader.log.Warn("load scope fetch failed",
					zap.String("scope", s.key.String()),
					zap.Error(res.Err),
				)
			}
			return
		}
		s.loader.reconcile(s, res.Records)
		s.loading = StateLoaded
	})
}

// KillLoading cancels an in-flight load (interval or fetch) and forces the
// state to Interrupted. Used when the owning object is disposed or
// reparented mid-load. A scope not currently loading is left untouched.
func (s *Scope) KillLoading() {
	if s.loading != StateInterval && s.loading != StateLoading {
		return
	}
	s.cancelPending()
	s.loading = StateInterrupted
}

// cancelPending releases the interval timer and operation handle and bumps
// the generation so any straggling callback is dropped.
func (s *Scope) cancelPending() {
	s.generation++
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
	if s.op != nil {
		s.op.Cancel()
		s.op = nil
	}
}

// LoadingWasCompromised detects a load that silently died: the scope was
// initialized but its state claims progress without a live timer or
// operation backing it (typical after a hot reload or scene reactivation).
// A compromised scope needs a fresh Load call.
func (s *Scope) LoadingWasCompromised() bool {
	if !s.initialized || !s.LifecycleState().Live() {
		return false
	}
	switch s.loading {
	case StateLoading:
		return s.op == nil || s.op.Done()
	case StateInterval:
		return s.cancelTimer == nil
	case StateInterrupted:
		return true
	default:
		return false
	}
}

// OnDisposing kills any in-flight operation before teardown and releases the
// scope's persistent references, so a stale completion can never fire into a
// torn-down scope.
func (s *Scope) OnDisposing() bool {
	s.KillLoading()
	s.cancelPending()
	if s.loader != nil {
		s.loader.releaseAll(s)
		s.loader.forget(s)
	}
	return true
}

// OnDisposed clears the loader back-reference.
func (s *Scope) OnDisposed(lifecycle.DisposeContext) {
	s.loader = nil
}
