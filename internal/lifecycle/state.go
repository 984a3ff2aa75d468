package lifecycle

import (
	"fmt"

	"github.com/google/uuid"
)

// DisposeContext classifies why a dispose is happening. The coordinator uses
// it to pick the terminal action for each node: destroy or return-to-pool.
type DisposeContext int

const (
	ContextUnknown       DisposeContext = iota
	ContextDestroy                      // programmatic, irreversible destroy
	ContextPool                         // programmatic return-to-pool
	ContextEditorDestroy                // torn down by host tooling
	ContextUndoRedo                     // torn down by a host undo/redo step
)

// Pools reports whether the context requests pool admission rather than
// destruction. Only the explicit pool context does; everything else,
// including Unknown, resolves to a destroy variant.
func (c DisposeContext) Pools() bool {
	return c == ContextPool
}

func (c DisposeContext) String() string {
	switch c {
	case ContextUnknown:
		return "Unknown"
	case ContextDestroy:
		return "Destroy"
	case ContextPool:
		return "Pool"
	case ContextEditorDestroy:
		return "EditorDestroy"
	case ContextUndoRedo:
		return "UndoRedo"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// DelayClass selects when a dispose takes effect: immediately, at the
// end-of-tick delayed phase, or at the late delayed phase after it.
type DelayClass int

const (
	DelayNone DelayClass = iota
	Delayed
	DelayedLate
)

// State holds the lifecycle flags every managed entity carries. Types embed
// it by value; all transitions go through the coordinator or the pool.
// Invariants: disposed and pooled are never both true; once disposing is set
// the only permitted mutation is completing teardown.
type State struct {
	id          uuid.UUID
	disposing   bool
	disposed    bool
	pooled      bool
	context     DisposeContext
	nonPoolable bool
}

// NewState returns a live state with a fresh instance ID.
func NewState() State {
	return State{id: uuid.New()}
}

// LifecycleState satisfies Disposable for every embedder.
func (s *State) LifecycleState() *State { return s }

// InstanceID returns the entity's GUID identity.
func (s *State) InstanceID() uuid.UUID { return s.id }

// RegenerateID assigns a fresh GUID and returns it. Used when a registry
// insert detects a collision, and on pool retrieval.
func (s *State) RegenerateID() uuid.UUID {
	s.id = uuid.New()
	return s.id
}

// Disposing reports whether teardown has begun.
func (s *State) Disposing() bool { return s.disposing }

// Disposed reports whether the entity was irreversibly destroyed.
func (s *State) Disposed() bool { return s.disposed }

// Pooled reports whether the entity currently sits in a pool free list.
func (s *State) Pooled() bool { return s.pooled }

// DisposedContext returns the context the last teardown ran under.
func (s *State) DisposedContext() DisposeContext { return s.context }

// SetNonPoolable marks the entity as never eligible for pooling (for example
// because it holds unmanaged resources). A requested pool context is then
// forced to destroy.
func (s *State) SetNonPoolable(v bool) { s.nonPoolable = v }

// NonPoolable reports whether pooling is forbidden for this entity.
func (s *State) NonPoolable() bool { return s.nonPoolable }

// Live reports whether the entity is neither disposing, disposed nor pooled.
func (s *State) Live() bool {
	return !s.disposing && !s.disposed && !s.pooled
}

// OnDisposing is the default hook: accept disposal. Embedders override it to
// veto a pass (return false) or to release resources before teardown.
func (s *State) OnDisposing() bool { return true }

// OnDisposed is the default no-op terminal hook.
func (s *State) OnDisposed(DisposeContext) {}

// beginDispose marks teardown as started. Returns false if the entity is
// already disposing, disposed or pooled, making double dispose a no-op.
func (s *State) beginDispose(ctx DisposeContext) bool {
	if s.disposing || s.disposed || s.pooled {
		return false
	}
	s.disposing = true
	s.context = ctx
	return true
}

// completeDestroy finishes an irreversible teardown.
func (s *State) completeDestroy(ctx DisposeContext) {
	s.disposed = true
	s.pooled = false
	s.context = ctx
}

// completePool finishes a return-to-pool teardown. The entity stays reusable,
// so disposing is cleared.
func (s *State) completePool() {
	s.pooled = true
	s.disposed = false
	s.disposing = false
	s.context = ContextPool
}

// reclaim revives a pooled entity for reuse: flags cleared, fresh identity.
func (s *State) reclaim() {
	s.pooled = false
	s.disposing = false
	s.disposed = false
	s.context = ContextUnknown
	s.id = uuid.New()
}

// Disposable is the capability every lifecycle-managed entity exposes.
// Embedding State provides LifecycleState and default hooks.
type Disposable interface {
	LifecycleState() *State

	// OnDisposing is invoked exactly once per entity when a dispose pass
	// collects it. Returning false excludes the entity from the pass.
	OnDisposing() bool

	// OnDisposed is invoked exactly once after the terminal action. When the
	// entity was pooled, its state reports Pooled() and ctx is ContextPool.
	OnDisposed(ctx DisposeContext)
}

// Kinded names an entity's concrete kind. The pool keys free lists by it and
// the registry enforces singleton kinds through it.
type Kinded interface {
	Kind() string
}

// Named is implemented by entities addressable by a human-readable name.
type Named interface {
	Name() string
}

// Poolable entities can be recycled instead of destroyed.
type Poolable interface {
	Disposable
	Kinded

	// Recycle resets the instance to a blank template, erasing
	// identity-specific fields while keeping its kind classification.
	Recycle()
}

// Composite is a disposable whose dispose must cascade over an owned graph:
// the coordinator walks DisposableChildren bottom-up before the owner.
type Composite interface {
	Disposable
	DisposableChildren() []Disposable
}

// Trimmable composites can name attached capabilities that the pooled form
// of their kind does not require; the coordinator destroys those before pool
// admission so later reuse only pays for required parts.
type Trimmable interface {
	SuperfluousComponents() []Disposable
}

// PoolCascade composites expose the subset of their owned graph still torn
// down when the owner is pooled rather than destroyed. Members not listed are
// retained through pooling (required capabilities) or trimmed via Trimmable.
// Composites without this interface cascade identically in both cases.
type PoolCascade interface {
	PoolDisposableChildren() []Disposable
}
