package command

import (
	"github.com/google/uuid"
	"github.com/strata3d/engine/internal/lifecycle"
	"github.com/strata3d/engine/internal/load"
	"github.com/strata3d/engine/internal/scene"
)

// Deps are the engine surfaces the built-in commands operate on.
type Deps struct {
	Coordinator *lifecycle.Coordinator
	Factory     *scene.Factory
	Scheduler   *scene.Scheduler
}

// RegisterBuiltins installs the standard engine commands: get, set, create,
// dispose and stats.
func RegisterBuiltins(reg *Registry, deps Deps) {
	reg.Register("get", func(req Request) Response { return cmdGet(deps, req) })
	reg.Register("set", func(req Request) Response { return cmdSet(deps, req) })
	reg.Register("create", func(req Request) Response { return cmdCreate(deps, req) })
	reg.Register("dispose", func(req Request) Response { return cmdDispose(deps, req) })
	reg.Register("stats", func(req Request) Response { return cmdStats(deps, req) })
}

// resolveTarget finds an instance by GUID first, then by registered name.
func resolveTarget(deps Deps, target string) lifecycle.Disposable {
	reg := deps.Coordinator.Registry()
	if reg == nil || target == "" {
		return nil
	}
	if id, err := uuid.Parse(target); err == nil {
		if inst := reg.Get(id); inst != nil {
			return inst
		}
	}
	return reg.GetByName(target)
}

func cmdGet(deps Deps, req Request) Response {
	inst := resolveTarget(deps, req.Target)
	if inst == nil {
		return Fail(ErrNotFound)
	}
	st := inst.LifecycleState()
	result := map[string]any{
		"id":       st.InstanceID().String(),
		"disposed": st.Disposed(),
		"pooled":   st.Pooled(),
	}
	if k, ok := inst.(lifecycle.Kinded); ok {
		result["kind"] = k.Kind()
	}
	if n, ok := inst.(lifecycle.Named); ok {
		result["name"] = n.Name()
	}
	switch t := inst.(type) {
	case *scene.Node:
		result["active"] = t.Active()
		result["dirty"] = t.Dirty()
		result["children"] = len(t.Children())
		result["components"] = len(t.Components())
	case *load.Persistent:
		result["properties"] = t.Properties()
	case *load.Loader:
		result["scopes"] = t.ScopeCount()
		result["persistents"] = t.PersistentCount()
	}
	return OK(result)
}

func cmdSet(deps Deps, req Request) Response {
	inst := resolveTarget(deps, req.Target)
	if inst == nil {
		return Fail(ErrNotFound)
	}
	n, ok := inst.(*scene.Node)
	if !ok {
		return Fail(ErrBadRequest)
	}
	changed := false
	if v, ok := req.Args["name"].(string); ok {
		oldName := n.Name()
		n.SetName(v)
		if reg := deps.Coordinator.Registry(); reg != nil {
			reg.UpdateName(n.InstanceID(), oldName)
		}
		changed = true
	}
	if v, ok := req.Args["active"].(bool); ok {
		n.SetActive(v)
		changed = true
	}
	if !changed {
		return Fail(ErrBadRequest)
	}
	n.MarkDirty()
	return OK(nil)
}

func cmdCreate(deps Deps, req Request) Response {
	kind, _ := req.Args["prefab"].(string)
	if kind == "" {
		return Fail(ErrBadRequest)
	}
	name, _ := req.Args["name"].(string)

	parent := deps.Scheduler.Root()
	if req.Target != "" {
		inst := resolveTarget(deps, req.Target)
		p, ok := inst.(*scene.Node)
		if !ok {
			return Fail(ErrNotFound)
		}
		parent = p
	}

	n := deps.Factory.Spawn(kind, name, parent)
	if n == nil {
		return Fail(ErrNotFound)
	}
	return OK(map[string]any{"id": n.InstanceID().String()})
}

func cmdDispose(deps Deps, req Request) Response {
	inst := resolveTarget(deps, req.Target)
	if inst == nil {
		return Fail(ErrNotFound)
	}

	ctx := lifecycle.ContextDestroy
	if v, _ := req.Args["context"].(string); v == "pool" {
		ctx = lifecycle.ContextPool
	}

	delay := lifecycle.DelayNone
	switch v, _ := req.Args["delay"].(string); v {
	case "delayed":
		delay = lifecycle.Delayed
	case "late":
		delay = lifecycle.DelayedLate
	}

	deps.Coordinator.Dispose(inst, ctx, delay)
	return OK(nil)
}

func cmdStats(deps Deps, _ Request) Response {
	reg := deps.Coordinator.Registry()
	result := map[string]any{
		"phase":           deps.Scheduler.CurrentPhase().String(),
		"pending_delayed": deps.Coordinator.PendingDelayed(),
	}
	if reg != nil {
		result["total"] = reg.TotalCount()
		result["transforms"] = reg.Count(lifecycle.CategoryTransform)
		result["persistents"] = reg.Count(lifecycle.CategoryPersistent)
		result["scripts"] = reg.Count(lifecycle.CategoryScript)
		result["managers"] = reg.Count(lifecycle.CategoryManager)
	}
	return OK(result)
}
