package scene

import (
	"github.com/strata3d/engine/internal/data"
	"github.com/strata3d/engine/internal/lifecycle"
	"go.uber.org/zap"
)

// ComponentCtor builds a component from prefab params.
type ComponentCtor func(params map[string]any) Component

// Factory spawns nodes from prefabs, consulting the pool before allocating,
// registering every spawn in the instance registry and queueing it for
// LateInitialize.
type Factory struct {
	scheduler   *Scheduler
	coordinator *lifecycle.Coordinator
	prefabs     *data.PrefabTable
	ctors       map[string]ComponentCtor
	log         *zap.Logger
}

func NewFactory(sched *Scheduler, prefabs *data.PrefabTable, log *zap.Logger) *Factory {
	f := &Factory{
		scheduler:   sched,
		coordinator: sched.Coordinator(),
		prefabs:     prefabs,
		ctors:       make(map[string]ComponentCtor),
		log:         log,
	}
	f.RegisterComponentKind("extent", func(map[string]any) Component {
		return NewExtent()
	})
	return f
}

// RegisterComponentKind maps a prefab component kind to its constructor.
func (f *Factory) RegisterComponentKind(kind string, ctor ComponentCtor) {
	f.ctors[kind] = ctor
}

// Spawn builds a node of the given prefab kind under parent. A pooled
// instance is reused when available; otherwise a fresh node is allocated.
// Returns nil when the prefab is unknown or registration fails.
func (f *Factory) Spawn(kind, name string, parent *Node) *Node {
	prefab := f.prefabs.Get(kind)
	if prefab == nil {
		if f.log != nil {
			f.log.Error("spawn of unknown prefab kind", zap.String("kind", kind))
		}
		return nil
	}
	return f.spawnPrefab(prefab, name, parent)
}

func (f *Factory) spawnPrefab(prefab *data.Prefab, name string, parent *Node) *Node {
	n := f.obtain(prefab)
	n.SetName(name)
	n.SetRequiredComponents(prefab.Required...)
	if !prefab.Poolable {
		n.LifecycleState().SetNonPoolable(true)
	}

	for _, pc := range prefab.Components {
		if n.ComponentOfKind(pc.Kind) != nil {
			continue // required component survived pooling
		}
		ctor, ok := f.ctors[pc.Kind]
		if !ok {
			if f.log != nil {
				f.log.Warn("prefab references unregistered component kind",
					zap.String("prefab", prefab.Kind),
					zap.String("component", pc.Kind),
				)
			}
			continue
		}
		n.AttachComponent(ctor(pc.Params))
	}

	reg := f.coordinator.Registry()
	if reg != nil && !reg.Add(lifecycle.CategoryTransform, n) {
		// Identity collision or singleton violation: the registry already
		// regenerated the ID; the instance must be destroyed, never pooled.
		f.coordinator.Dispose(n, lifecycle.ContextDestroy, lifecycle.DelayNone)
		return nil
	}

	if parent != nil {
		parent.AddChild(n)
	}
	f.scheduler.EnqueueInit(n)

	for _, childDef := range prefab.Children {
		f.Spawn(childDef.Prefab, childDef.Name, n)
	}
	return n
}

// obtain reuses a pooled node of the prefab's kind when one is available.
func (f *Factory) obtain(prefab *data.Prefab) *Node {
	pool := f.coordinator.Pool()
	if pool != nil {
		if inst := pool.GetFromPool(prefab.Kind); inst != nil {
			if n, ok := inst.(*Node); ok {
				return n
			}
			// A foreign poolable under a node kind is a wiring bug; destroy
			// it rather than leak it and fall through to allocation.
			f.coordinator.Dispose(inst, lifecycle.ContextDestroy, lifecycle.DelayNone)
		}
	}
	return NewNode(prefab.Kind, "")
}
