package lifecycle

import (
	"go.uber.org/zap"
)

// pending is one collected node awaiting its terminal action, with the
// context resolved for that node at collection time.
type pending struct {
	target Disposable
	ctx    DisposeContext
}

// Coordinator decides, for any object graph rooted at a handle, whether each
// node is destroyed or returned to the pool, and dispatches the lifecycle
// callbacks exactly once per node. Single-goroutine access only (update loop).
type Coordinator struct {
	pool     *Pool
	registry *Registry
	contexts ContextStack

	delayed     []pending
	delayedLate []pending

	// externallyDestroyed holds handles whose backing host resources were
	// torn down outside the coordinator; drained in its own phase.
	externallyDestroyed []Disposable

	log *zap.Logger
}

func NewCoordinator(pool *Pool, registry *Registry, log *zap.Logger) *Coordinator {
	return &Coordinator{
		pool:     pool,
		registry: registry,
		log:      log,
	}
}

// CurrentContext returns the context of the innermost dispose in progress,
// or ContextUnknown outside any dispose. Callbacks branch on this instead of
// ambient global state.
func (c *Coordinator) CurrentContext() DisposeContext {
	return c.contexts.Current()
}

// Dispose tears down the graph rooted at h. Children are collected before
// parents, OnDisposing fires exactly once per node at collection time, and
// the terminal action is resolved per node, so a mixed tree can destroy some
// nodes and pool others. Disposing nil or an already-disposed handle is a
// no-op; the disposing flag makes double dispose idempotent.
func (c *Coordinator) Dispose(h Disposable, ctx DisposeContext, delay DelayClass) {
	if h == nil {
		return
	}
	var batch []pending
	c.collect(h, ctx, &batch)
	if len(batch) == 0 {
		return
	}
	switch delay {
	case Delayed:
		c.delayed = append(c.delayed, batch...)
	case DelayedLate:
		c.delayedLate = append(c.delayedLate, batch...)
	default:
		c.execute(batch)
	}
}

// collect walks bottom-up (children before parents), resolving each node's
// context and marking it disposing so a concurrent pass cannot collect it
// twice. Nodes whose OnDisposing declines are excluded from this pass.
func (c *Coordinator) collect(d Disposable, requested DisposeContext, out *[]pending) {
	if d == nil {
		return
	}
	st := d.LifecycleState()
	if st == nil || !st.Live() {
		return
	}
	resolved := c.resolveContext(d, requested)
	if comp, ok := d.(Composite); ok {
		children := comp.DisposableChildren()
		if resolved.Pools() {
			// A pooled owner keeps its retained capabilities; only the
			// pool-cascade subset is torn down with it.
			if pc, ok := d.(PoolCascade); ok {
				children = pc.PoolDisposableChildren()
			}
		}
		for _, child := range children {
			c.collect(child, requested, out)
		}
	}
	if !d.OnDisposing() {
		return
	}
	if !st.beginDispose(resolved) {
		return
	}
	*out = append(*out, pending{target: d, ctx: resolved})
}

// resolveContext forces a requested pool context to destroy when the node
// cannot be pooled: pooling globally disabled, node flagged non-poolable,
// or node not a kinded poolable at all. Unknown resolves to destroy.
func (c *Coordinator) resolveContext(d Disposable, requested DisposeContext) DisposeContext {
	if !requested.Pools() {
		if requested == ContextUnknown {
			return ContextDestroy
		}
		return requested
	}
	if c.pool == nil || !c.pool.Enabled() {
		return ContextDestroy
	}
	p, ok := d.(Poolable)
	if !ok || p.Kind() == "" || d.LifecycleState().NonPoolable() {
		return ContextDestroy
	}
	return ContextPool
}

func (c *Coordinator) execute(batch []pending) {
	for _, pd := range batch {
		c.finalize(pd.target, pd.ctx)
	}
}

// finalize applies the terminal action for one node and fires OnDisposed.
func (c *Coordinator) finalize(d Disposable, ctx DisposeContext) {
	st := d.LifecycleState()
	if st.Disposed() || st.Pooled() {
		return
	}
	c.contexts.With(ctx, func() {
		if ctx.Pools() {
			if c.pooled(d) {
				return
			}
			// Pool refused admission (full list, etc.): fall through, and
			// take the retained capabilities down with the owner.
			ctx = ContextDestroy
			if comp, ok := d.(Composite); ok {
				for _, child := range comp.DisposableChildren() {
					c.Dispose(child, ContextDestroy, DelayNone)
				}
			}
		}
		if c.registry != nil {
			c.registry.Remove(st.InstanceID(), d)
		}
		st.completeDestroy(ctx)
		d.OnDisposed(ctx)
	})
}

// pooled trims superfluous attached capabilities, then hands the node to the
// pool. The registry entry is dropped first: a pooled instance must not be
// referenced anywhere as live.
func (c *Coordinator) pooled(d Disposable) bool {
	if t, ok := d.(Trimmable); ok {
		for _, comp := range t.SuperfluousComponents() {
			c.Dispose(comp, ContextDestroy, DelayNone)
		}
	}
	p := d.(Poolable)
	st := d.LifecycleState()
	if c.registry != nil {
		c.registry.Remove(st.InstanceID(), d)
	}
	if !c.pool.AddToPool(p) {
		return false
	}
	d.OnDisposed(ContextPool)
	return true
}

// MarkDestroyedExternally queues a handle whose backing resources died
// outside the coordinator (host-side destroy). The scheduler drains the
// queue in its own phase before the delayed-dispose phases.
func (c *Coordinator) MarkDestroyedExternally(d Disposable) {
	if d == nil {
		return
	}
	c.externallyDestroyed = append(c.externallyDestroyed, d)
}

// DrainExternallyDestroyed disposes queued external-destroy handles. Pooling
// is never considered: the backing resources are already gone.
func (c *Coordinator) DrainExternallyDestroyed() {
	queue := c.externallyDestroyed
	c.externallyDestroyed = nil
	for _, d := range queue {
		c.Dispose(d, ContextEditorDestroy, DelayNone)
	}
}

// DrainDelayed runs the delayed queue. The queue is snapshotted at drain
// start: a dispose that recursively schedules another delayed dispose lands
// in the next snapshot instead of reordering this one.
func (c *Coordinator) DrainDelayed() {
	queue := c.delayed
	c.delayed = nil
	c.execute(queue)
}

// DrainDelayedLate runs the late delayed queue with the same snapshot rule.
func (c *Coordinator) DrainDelayedLate() {
	queue := c.delayedLate
	c.delayedLate = nil
	c.execute(queue)
}

// PendingDelayed returns the combined length of both delayed queues.
func (c *Coordinator) PendingDelayed() int {
	return len(c.delayed) + len(c.delayedLate)
}

// Pool returns the coordinator's pool.
func (c *Coordinator) Pool() *Pool { return c.pool }

// Registry returns the coordinator's registry.
func (c *Coordinator) Registry() *Registry { return c.registry }
