package scene

import (
	"sync"
	"time"

	"github.com/strata3d/engine/internal/lifecycle"
	"go.uber.org/zap"
)

// Phase is the scheduler's current execution state. It is mutated only by
// the scheduler, before each traversal, and reset to PhaseNone at tick end;
// any component may read it to decide deferred-vs-immediate semantics.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseLateInitialize
	PhasePreHierarchicalUpdate
	PhaseHierarchicalUpdate
	PhasePostHierarchicalUpdate
	PhaseHierarchicalClearDirtyFlags
	PhaseHierarchicalActivate
	PhaseDelayedOnDestroy
	PhaseDelayedDispose
	PhaseDelayedDisposeLate
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "None"
	case PhaseLateInitialize:
		return "LateInitialize"
	case PhasePreHierarchicalUpdate:
		return "PreHierarchicalUpdate"
	case PhaseHierarchicalUpdate:
		return "HierarchicalUpdate"
	case PhasePostHierarchicalUpdate:
		return "PostHierarchicalUpdate"
	case PhaseHierarchicalClearDirtyFlags:
		return "HierarchicalClearDirtyFlags"
	case PhaseHierarchicalActivate:
		return "HierarchicalActivate"
	case PhaseDelayedOnDestroy:
		return "DelayedOnDestroy"
	case PhaseDelayedDispose:
		return "DelayedDispose"
	case PhaseDelayedDisposeLate:
		return "DelayedDisposeLate"
	default:
		return "Invalid"
	}
}

// timer is a tick-clock deadline. Fired at tick start on the update
// goroutine, in deadline order of registration.
type timer struct {
	deadline  time.Duration
	fn        func()
	cancelled bool
}

// Scheduler drives the strict per-tick phase order over the scene tree:
// LateInitialize, the three hierarchical update traversals, clear-dirty,
// the optional activate traversal, then the deferred-dispose phases.
// Single-goroutine mutation; only Post may be called from other goroutines.
type Scheduler struct {
	root        *Node
	coordinator *lifecycle.Coordinator

	phase    Phase
	updating bool // re-entrancy guard: nested ticks are ignored

	activateRequested bool

	// pendingInit holds nodes spawned since the previous LateInitialize,
	// including mid-traversal spawns.
	pendingInit []*Node

	// posted is the cross-goroutine call queue. Background I/O completions
	// land here and run at the start of the next tick, which is what keeps
	// every registry/pool/dispose mutation on the update goroutine.
	postedMu sync.Mutex
	posted   []func()

	now    time.Duration
	timers []*timer

	log *zap.Logger
}

func NewScheduler(root *Node, coord *lifecycle.Coordinator, log *zap.Logger) *Scheduler {
	return &Scheduler{
		root:        root,
		coordinator: coord,
		log:         log,
	}
}

// Root returns the scene root node.
func (s *Scheduler) Root() *Node { return s.root }

// CurrentPhase returns the phase in progress, PhaseNone between ticks.
func (s *Scheduler) CurrentPhase() Phase { return s.phase }

// Coordinator returns the dispose coordinator driven by this scheduler.
func (s *Scheduler) Coordinator() *lifecycle.Coordinator { return s.coordinator }

// RequestActivate asks for one HierarchicalActivate traversal on the next tick.
func (s *Scheduler) RequestActivate() { s.activateRequested = true }

// EnqueueInit queues a node for the next LateInitialize phase.
func (s *Scheduler) EnqueueInit(n *Node) {
	if n != nil {
		s.pendingInit = append(s.pendingInit, n)
	}
}

// Post queues fn to run on the update goroutine at the next tick start.
// Safe to call from any goroutine.
func (s *Scheduler) Post(fn func()) {
	s.postedMu.Lock()
	s.posted = append(s.posted, fn)
	s.postedMu.Unlock()
}

// After schedules fn on the tick clock and returns a cancel func. Update
// goroutine only.
func (s *Scheduler) After(d time.Duration, fn func()) func() {
	t := &timer{deadline: s.now + d, fn: fn}
	s.timers = append(s.timers, t)
	return func() { t.cancelled = true }
}

// Now returns accumulated tick time.
func (s *Scheduler) Now() time.Duration { return s.now }

// Tick runs one full phase cycle. A tick in progress ignores nested calls.
func (s *Scheduler) Tick(dt time.Duration) {
	if s.updating {
		return
	}
	s.updating = true
	defer func() {
		s.phase = PhaseNone
		s.updating = false
	}()

	s.now += dt
	s.drainPosted()
	s.fireTimers()

	s.phase = PhaseLateInitialize
	s.lateInitialize()

	s.phase = PhasePreHierarchicalUpdate
	s.walkPreOrder(s.root, dt, s.phase)

	s.phase = PhaseHierarchicalUpdate
	s.walkPreOrder(s.root, dt, s.phase)

	s.phase = PhasePostHierarchicalUpdate
	s.walkPreOrder(s.root, dt, s.phase)

	s.phase = PhaseHierarchicalClearDirtyFlags
	s.walkPostOrder(s.root, s.phase)

	if s.activateRequested {
		s.activateRequested = false
		s.phase = PhaseHierarchicalActivate
		s.walkPreOrder(s.root, dt, s.phase)
	}

	// Deferred disposal only ever runs here, after every traversal is done.
	s.phase = PhaseDelayedOnDestroy
	s.coordinator.DrainExternallyDestroyed()

	s.phase = PhaseDelayedDispose
	s.coordinator.DrainDelayed()

	s.phase = PhaseDelayedDisposeLate
	s.coordinator.DrainDelayedLate()
}

func (s *Scheduler) drainPosted() {
	s.postedMu.Lock()
	queue := s.posted
	s.posted = nil
	s.postedMu.Unlock()
	for _, fn := range queue {
		fn()
	}
}

func (s *Scheduler) fireTimers() {
	// Timers registered while firing (e.g. a reload rescheduling itself)
	// belong to a later deadline and stay queued.
	due := make([]*timer, 0)
	kept := s.timers[:0]
	for _, t := range s.timers {
		if t.cancelled {
			continue
		}
		if t.deadline <= s.now {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	s.timers = kept
	for _, t := range due {
		if !t.cancelled {
			t.fn()
		}
	}
}

// lateInitialize resolves nodes created but not yet initialized since the
// previous tick. Spawns during initialization are picked up next tick.
func (s *Scheduler) lateInitialize() {
	queue := s.pendingInit
	s.pendingInit = nil
	for _, n := range queue {
		if !n.LifecycleState().Live() || n.initialized {
			continue
		}
		for _, c := range n.components {
			if li, ok := c.(LateInitializer); ok && c.LifecycleState().Live() {
				li.LateInitialize(n)
			}
		}
		n.initialized = true
	}
}

// walkPreOrder visits the node before its children. Returns true when the
// subtree contained a node that disposed itself, so the parent can prune.
func (s *Scheduler) walkPreOrder(n *Node, dt time.Duration, phase Phase) bool {
	if n == nil {
		return false
	}
	st := n.LifecycleState()
	if !st.Live() {
		return true
	}
	if !n.active {
		return false
	}
	s.visit(n, dt, phase)
	if !st.Live() {
		return true
	}
	containsDisposed := false
	// Real copy: a hook detaching a sibling shifts n.children in place, and
	// iterating the live slice would then double-visit the last child.
	children := make([]*Node, len(n.children))
	copy(children, n.children)
	for _, child := range children {
		if s.walkPreOrder(child, dt, phase) {
			containsDisposed = true
		}
	}
	if containsDisposed {
		n.pruneDisposedChildren()
	}
	return !st.Live()
}

// walkPostOrder visits children before the node (used for clear-dirty so
// parents observe settled children).
func (s *Scheduler) walkPostOrder(n *Node, phase Phase) bool {
	if n == nil {
		return false
	}
	st := n.LifecycleState()
	if !st.Live() {
		return true
	}
	if !n.active {
		return false
	}
	containsDisposed := false
	children := make([]*Node, len(n.children))
	copy(children, n.children)
	for _, child := range children {
		if s.walkPostOrder(child, phase) {
			containsDisposed = true
		}
	}
	if containsDisposed {
		n.pruneDisposedChildren()
	}
	s.visit(n, 0, phase)
	return !st.Live()
}

// visit dispatches the phase hook on every live component of the node.
func (s *Scheduler) visit(n *Node, dt time.Duration, phase Phase) {
	sawDead := false
	for _, c := range n.components {
		if !c.LifecycleState().Live() {
			sawDead = true
			continue
		}
		switch phase {
		case PhasePreHierarchicalUpdate:
			if h, ok := c.(PreUpdater); ok {
				h.PreHierarchicalUpdate(n, dt)
			}
		case PhaseHierarchicalUpdate:
			if h, ok := c.(Updater); ok {
				h.HierarchicalUpdate(n, dt)
			}
		case PhasePostHierarchicalUpdate:
			if h, ok := c.(PostUpdater); ok {
				h.PostHierarchicalUpdate(n, dt)
			}
		case PhaseHierarchicalClearDirtyFlags:
			if h, ok := c.(DirtyClearer); ok {
				h.ClearDirtyFlags(n)
			}
		case PhaseHierarchicalActivate:
			if h, ok := c.(Activator); ok {
				h.Activate(n)
			}
		}
		if !n.LifecycleState().Live() {
			return
		}
	}
	if sawDead {
		n.pruneDisposedComponents()
	}
	if phase == PhaseHierarchicalClearDirtyFlags {
		n.dirty = false
	}
}
