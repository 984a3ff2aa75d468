package scene

import (
	"time"

	"github.com/strata3d/engine/internal/lifecycle"
)

// Component is a capability attached to a node. Behavior is composed from
// small optional hook interfaces below instead of an override chain.
type Component interface {
	lifecycle.Disposable
	Kind() string
}

// LateInitializer components finish setup on the first tick after spawn.
type LateInitializer interface {
	LateInitialize(n *Node)
}

// PreUpdater components run in the pre-update traversal.
type PreUpdater interface {
	PreHierarchicalUpdate(n *Node, dt time.Duration)
}

// Updater components run in the main update traversal.
type Updater interface {
	HierarchicalUpdate(n *Node, dt time.Duration)
}

// PostUpdater components run in the post-update traversal.
type PostUpdater interface {
	PostHierarchicalUpdate(n *Node, dt time.Duration)
}

// DirtyClearer components run in the clear-dirty traversal (post-order).
type DirtyClearer interface {
	ClearDirtyFlags(n *Node)
}

// Activator components run in the optional activate traversal.
type Activator interface {
	Activate(n *Node)
}

// Node is one element of the scene tree: a kind, a name, children, and a set
// of attached components. Nodes are lifecycle-managed and poolable.
// Single-goroutine access only (update loop).
type Node struct {
	lifecycle.State

	kind string
	name string

	parent     *Node
	children   []*Node
	components []Component

	// requiredKinds are the component kinds the pooled form of this node
	// keeps; everything else is destroyed on pool admission.
	requiredKinds map[string]bool

	active      bool
	initialized bool
	dirty       bool
}

func NewNode(kind, name string) *Node {
	return &Node{
		State:  lifecycle.NewState(),
		kind:   kind,
		name:   name,
		active: true,
	}
}

func (n *Node) Kind() string { return n.kind }

func (n *Node) Name() string { return n.name }

func (n *Node) SetName(name string) { n.name = name }

func (n *Node) Parent() *Node { return n.parent }

// Children returns the live child slice. Traversals snapshot it before
// descending; external callers must not retain it across mutations.
func (n *Node) Children() []*Node { return n.children }

// AddChild reparents child under n.
func (n *Node) AddChild(child *Node) {
	if child == nil || child == n {
		return
	}
	if child.parent != nil {
		child.parent.RemoveChild(child)
	}
	child.parent = n
	n.children = append(n.children, child)
	n.MarkDirty()
}

// RemoveChild detaches child from n. Returns false if child is not ours.
func (n *Node) RemoveChild(child *Node) bool {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			n.MarkDirty()
			return true
		}
	}
	return false
}

// AttachComponent adds a capability to the node.
func (n *Node) AttachComponent(c Component) {
	if c == nil {
		return
	}
	n.components = append(n.components, c)
	n.MarkDirty()
}

// Components returns the attached component slice.
func (n *Node) Components() []Component { return n.components }

// ComponentOfKind returns the first live component of the kind, or nil.
func (n *Node) ComponentOfKind(kind string) Component {
	for _, c := range n.components {
		if c.Kind() == kind && c.LifecycleState().Live() {
			return c
		}
	}
	return nil
}

// SetRequiredComponents declares which component kinds survive pooling.
func (n *Node) SetRequiredComponents(kinds ...string) {
	n.requiredKinds = make(map[string]bool, len(kinds))
	for _, k := range kinds {
		n.requiredKinds[k] = true
	}
}

// SuperfluousComponents lists attached components the pooled form of this
// node does not require. The dispose coordinator destroys them before pool
// admission.
func (n *Node) SuperfluousComponents() []lifecycle.Disposable {
	var out []lifecycle.Disposable
	for _, c := range n.components {
		if !n.requiredKinds[c.Kind()] {
			out = append(out, c)
		}
	}
	return out
}

// DisposableChildren exposes the owned graph to the dispose coordinator:
// components first, then child nodes.
func (n *Node) DisposableChildren() []lifecycle.Disposable {
	out := make([]lifecycle.Disposable, 0, len(n.components)+len(n.children))
	for _, c := range n.components {
		out = append(out, c)
	}
	for _, c := range n.children {
		out = append(out, c)
	}
	return out
}

// PoolDisposableChildren restricts the pool-time cascade to child nodes.
// Required components ride back to the pool attached; superfluous ones are
// trimmed by the coordinator on admission.
func (n *Node) PoolDisposableChildren() []lifecycle.Disposable {
	out := make([]lifecycle.Disposable, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	return out
}

// Recycle resets the node to a blank template for pool reuse. Kind and the
// required component set survive; identity-specific fields are erased.
// Required components stay attached (superfluous ones were already destroyed).
// The node detaches from its parent first: a pooled instance must not remain
// reachable through the tree, or a later reclaim would alias it live under
// two parents.
func (n *Node) Recycle() {
	if n.parent != nil {
		n.parent.RemoveChild(n)
	}
	n.name = ""
	n.parent = nil
	n.children = nil
	n.active = true
	n.initialized = false
	n.dirty = false

	kept := n.components[:0]
	for _, c := range n.components {
		if c.LifecycleState().Live() {
			kept = append(kept, c)
		}
	}
	n.components = kept
}

// MarkDirty flags the node for the clear-dirty traversal.
func (n *Node) MarkDirty() { n.dirty = true }

// Dirty reports whether the node has unprocessed changes.
func (n *Node) Dirty() bool { return n.dirty }

// Active reports whether traversals descend into this node.
func (n *Node) Active() bool { return n.active }

// SetActive toggles participation in traversals.
func (n *Node) SetActive(v bool) {
	if n.active != v {
		n.active = v
		n.MarkDirty()
	}
}

// Initialized reports whether LateInitialize has run for this node.
func (n *Node) Initialized() bool { return n.initialized }

// pruneDisposedChildren drops children that disposed themselves mid-walk.
func (n *Node) pruneDisposedChildren() {
	kept := n.children[:0]
	for _, c := range n.children {
		if c.LifecycleState().Live() {
			kept = append(kept, c)
		} else {
			c.parent = nil
		}
	}
	n.children = kept
}

// pruneDisposedComponents drops components destroyed out from under us.
func (n *Node) pruneDisposedComponents() {
	kept := n.components[:0]
	for _, c := range n.components {
		if c.LifecycleState().Live() {
			kept = append(kept, c)
		}
	}
	n.components = kept
}
