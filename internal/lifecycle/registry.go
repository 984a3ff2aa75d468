package lifecycle

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// Category partitions registered instances by broad role.
type Category int

const (
	CategoryTransform Category = iota
	CategoryPersistent
	CategoryScript
	CategoryManager

	categoryCount
)

func (c Category) String() string {
	switch c {
	case CategoryTransform:
		return "Transform"
	case CategoryPersistent:
		return "Persistent"
	case CategoryScript:
		return "Script"
	case CategoryManager:
		return "Manager"
	default:
		return "Invalid"
	}
}

// RegistryObserver receives synchronous add/remove notifications, fired after
// the mutation is committed so observers never see a half-updated registry.
type RegistryObserver func(cat Category, inst Disposable)

// Registry is the typed multi-map from GUID identity to live instances,
// partitioned by category. A GUID appears in at most one category at a time.
// Single-goroutine access only (update loop).
type Registry struct {
	buckets  [categoryCount]map[uuid.UUID]Disposable
	category map[uuid.UUID]Category

	// byName indexes instances implementing Named, NFC-normalized so
	// composed and decomposed spellings resolve to the same entry.
	byName map[string]uuid.UUID

	singletonKinds map[string]bool
	singletons     map[string]uuid.UUID

	added   []RegistryObserver
	removed []RegistryObserver

	log *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	r := &Registry{
		category:       make(map[uuid.UUID]Category),
		byName:         make(map[string]uuid.UUID),
		singletonKinds: make(map[string]bool),
		singletons:     make(map[string]uuid.UUID),
		log:            log,
	}
	for i := range r.buckets {
		r.buckets[i] = make(map[uuid.UUID]Disposable)
	}
	return r
}

// DeclareSingletonKind limits the given kind to one registered instance.
// Attempting to add a second logs an error and rejects the instance.
func (r *Registry) DeclareSingletonKind(kind string) {
	r.singletonKinds[kind] = true
}

// OnAdded registers an observer for successful inserts.
func (r *Registry) OnAdded(fn RegistryObserver) {
	r.added = append(r.added, fn)
}

// OnRemoved registers an observer for successful removals.
func (r *Registry) OnRemoved(fn RegistryObserver) {
	r.removed = append(r.removed, fn)
}

// Add inserts inst into the category bucket. On a GUID collision the
// colliding instance gets a regenerated ID and Add returns false: the caller
// must destroy it (never pool it), since a duplicate identity means the
// instance graph is corrupt. The same applies to singleton-kind violations.
func (r *Registry) Add(cat Category, inst Disposable) bool {
	if inst == nil || cat < 0 || cat >= categoryCount {
		return false
	}
	st := inst.LifecycleState()
	id := st.InstanceID()

	if _, exists := r.category[id]; exists {
		if r.log != nil {
			r.log.Error("instance id collision on registry insert",
				zap.String("id", id.String()),
				zap.String("category", cat.String()),
			)
		}
		st.RegenerateID()
		return false
	}

	if k, ok := inst.(Kinded); ok {
		kind := k.Kind()
		if r.singletonKinds[kind] {
			if _, taken := r.singletons[kind]; taken {
				if r.log != nil {
					r.log.Error("multiple instances of singleton kind are not supported",
						zap.String("kind", kind),
					)
				}
				st.RegenerateID()
				return false
			}
			r.singletons[kind] = id
		}
	}

	r.buckets[cat][id] = inst
	r.category[id] = cat
	if n, ok := inst.(Named); ok && n.Name() != "" {
		r.byName[norm.NFC.String(n.Name())] = id
	}

	for _, fn := range r.added {
		fn(cat, inst)
	}
	return true
}

// Remove deletes the instance registered under id, verifying it is the same
// instance. Returns false when id is unknown or maps to a different instance.
func (r *Registry) Remove(id uuid.UUID, inst Disposable) bool {
	cat, ok := r.category[id]
	if !ok {
		return false
	}
	cur := r.buckets[cat][id]
	if cur != inst {
		return false
	}
	delete(r.buckets[cat], id)
	delete(r.category, id)

	if k, ok := inst.(Kinded); ok {
		if r.singletons[k.Kind()] == id {
			delete(r.singletons, k.Kind())
		}
	}
	if n, ok := inst.(Named); ok && n.Name() != "" {
		key := norm.NFC.String(n.Name())
		if r.byName[key] == id {
			delete(r.byName, key)
		}
	}

	for _, fn := range r.removed {
		fn(cat, inst)
	}
	return true
}

// UpdateName re-indexes a registered instance after its name changed.
// oldName is the name it was registered (or last indexed) under.
func (r *Registry) UpdateName(id uuid.UUID, oldName string) {
	if _, ok := r.category[id]; !ok {
		return
	}
	if oldName != "" {
		key := norm.NFC.String(oldName)
		if r.byName[key] == id {
			delete(r.byName, key)
		}
	}
	if inst := r.Get(id); inst != nil {
		if n, ok := inst.(Named); ok && n.Name() != "" {
			r.byName[norm.NFC.String(n.Name())] = id
		}
	}
}

// Get returns the live instance registered under id, or nil.
func (r *Registry) Get(id uuid.UUID) Disposable {
	cat, ok := r.category[id]
	if !ok {
		return nil
	}
	return r.buckets[cat][id]
}

// GetByName resolves a Unicode-normalized name to its instance, or nil.
func (r *Registry) GetByName(name string) Disposable {
	id, ok := r.byName[norm.NFC.String(name)]
	if !ok {
		return nil
	}
	return r.Get(id)
}

// GetAs returns the instance under id as T.
func GetAs[T Disposable](r *Registry, id uuid.UUID) (T, bool) {
	var zero T
	inst := r.Get(id)
	if inst == nil {
		return zero, false
	}
	t, ok := inst.(T)
	return t, ok
}

// IterateOverInstances calls fn for every live instance in the category.
// The enumeration is snapshotted first, so a callback may dispose or remove
// instances (including the current one) without breaking the walk; entries
// disposed mid-walk are skipped. fn returns false to stop early.
func (r *Registry) IterateOverInstances(cat Category, fn func(Disposable) bool) {
	if cat < 0 || cat >= categoryCount {
		return
	}
	snapshot := make([]Disposable, 0, len(r.buckets[cat]))
	for _, inst := range r.buckets[cat] {
		snapshot = append(snapshot, inst)
	}
	for _, inst := range snapshot {
		st := inst.LifecycleState()
		if st.Disposed() || st.Pooled() {
			continue
		}
		if _, still := r.category[st.InstanceID()]; !still {
			continue
		}
		if !fn(inst) {
			return
		}
	}
}

// Count returns the number of instances registered in the category.
func (r *Registry) Count(cat Category) int {
	if cat < 0 || cat >= categoryCount {
		return 0
	}
	return len(r.buckets[cat])
}

// TotalCount returns the number of instances across all categories.
func (r *Registry) TotalCount() int {
	return len(r.category)
}
