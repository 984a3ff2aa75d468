package scene

import (
	"math"
	"time"

	"github.com/strata3d/engine/internal/lifecycle"
)

// Extent tracks a node's geographic bounding box and aggregates child
// extents bottom-up during the clear-dirty traversal, so a layer node always
// bounds everything below it once the tick settles.
type Extent struct {
	lifecycle.State

	MinLon, MinLat float64
	MaxLon, MaxLat float64

	// own is the node's intrinsic box before child aggregation.
	ownMinLon, ownMinLat float64
	ownMaxLon, ownMaxLat float64
	hasOwn               bool
}

func NewExtent() *Extent {
	e := &Extent{State: lifecycle.NewState()}
	e.reset()
	return e
}

func (e *Extent) Kind() string { return "extent" }

func (e *Extent) reset() {
	e.MinLon, e.MinLat = math.Inf(1), math.Inf(1)
	e.MaxLon, e.MaxLat = math.Inf(-1), math.Inf(-1)
	e.hasOwn = false
}

// SetBounds sets the node's intrinsic box and marks the chain dirty upward.
func (e *Extent) SetBounds(minLon, minLat, maxLon, maxLat float64) {
	e.ownMinLon, e.ownMinLat = minLon, minLat
	e.ownMaxLon, e.ownMaxLat = maxLon, maxLat
	e.hasOwn = true
}

// Empty reports whether the extent bounds nothing.
func (e *Extent) Empty() bool {
	return e.MinLon > e.MaxLon
}

// ClearDirtyFlags recomputes the aggregate box. The traversal is post-order,
// so child extents are already settled when the parent recomputes.
func (e *Extent) ClearDirtyFlags(n *Node) {
	e.MinLon, e.MinLat = math.Inf(1), math.Inf(1)
	e.MaxLon, e.MaxLat = math.Inf(-1), math.Inf(-1)
	if e.hasOwn {
		e.include(e.ownMinLon, e.ownMinLat, e.ownMaxLon, e.ownMaxLat)
	}
	for _, child := range n.Children() {
		c := child.ComponentOfKind("extent")
		if c == nil {
			continue
		}
		ce, ok := c.(*Extent)
		if !ok || ce.Empty() {
			continue
		}
		e.include(ce.MinLon, ce.MinLat, ce.MaxLon, ce.MaxLat)
	}
}

func (e *Extent) include(minLon, minLat, maxLon, maxLat float64) {
	e.MinLon = math.Min(e.MinLon, minLon)
	e.MinLat = math.Min(e.MinLat, minLat)
	e.MaxLon = math.Max(e.MaxLon, maxLon)
	e.MaxLat = math.Max(e.MaxLat, maxLat)
}

// Recycle keeps the component poolable alongside its node.
func (e *Extent) Recycle() { e.reset() }

// Behavior is a component whose hooks are plain func fields. Layers and
// tests use it to run logic in specific phases without declaring a type per
// concern.
type Behavior struct {
	lifecycle.State

	kind string

	OnLateInitialize func(n *Node)
	OnPreUpdate      func(n *Node, dt time.Duration)
	OnUpdate         func(n *Node, dt time.Duration)
	OnPostUpdate     func(n *Node, dt time.Duration)
	OnClearDirty     func(n *Node)
	OnActivate       func(n *Node)
}

func NewBehavior(kind string) *Behavior {
	return &Behavior{State: lifecycle.NewState(), kind: kind}
}

func (b *Behavior) Kind() string { return b.kind }

func (b *Behavior) LateInitialize(n *Node) {
	if b.OnLateInitialize != nil {
		b.OnLateInitialize(n)
	}
}

func (b *Behavior) PreHierarchicalUpdate(n *Node, dt time.Duration) {
	if b.OnPreUpdate != nil {
		b.OnPreUpdate(n, dt)
	}
}

func (b *Behavior) HierarchicalUpdate(n *Node, dt time.Duration) {
	if b.OnUpdate != nil {
		b.OnUpdate(n, dt)
	}
}

func (b *Behavior) PostHierarchicalUpdate(n *Node, dt time.Duration) {
	if b.OnPostUpdate != nil {
		b.OnPostUpdate(n, dt)
	}
}

func (b *Behavior) ClearDirtyFlags(n *Node) {
	if b.OnClearDirty != nil {
		b.OnClearDirty(n)
	}
}

func (b *Behavior) Activate(n *Node) {
	if b.OnActivate != nil {
		b.OnActivate(n)
	}
}
