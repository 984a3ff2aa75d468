package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryAddAndGet(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	e := newTestEntity("tile", "ridge")

	require.True(t, r.Add(CategoryTransform, e))
	assert.Same(t, e, r.Get(e.InstanceID()).(*testEntity))
	assert.Equal(t, 1, r.Count(CategoryTransform))
	assert.Equal(t, 1, r.TotalCount())
}

func TestRegistryGetByNameNormalizesUnicode(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	// Decomposed "café": 'e' followed by a combining acute accent.
	e := newTestEntity("tile", "café")
	require.True(t, r.Add(CategoryTransform, e))

	// Composed spelling resolves to the same instance.
	got := r.GetByName("café")
	require.NotNil(t, got)
	assert.Same(t, e, got.(*testEntity))
}

func TestRegistryIDCollisionRegeneratesAndRejects(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	a := newTestEntity("tile", "a")
	require.True(t, r.Add(CategoryTransform, a))

	b := newTestEntity("tile", "b")
	b.State.id = a.InstanceID()

	collidingID := b.InstanceID()
	assert.False(t, r.Add(CategoryTransform, b))
	assert.NotEqual(t, collidingID, b.InstanceID())
	// The original occupant is untouched.
	assert.Same(t, a, r.Get(a.InstanceID()).(*testEntity))
	assert.Equal(t, 1, r.TotalCount())
}

func TestRegistrySingletonKind(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.DeclareSingletonKind("root")

	first := newTestEntity("root", "first")
	require.True(t, r.Add(CategoryManager, first))

	second := newTestEntity("root", "second")
	secondID := second.InstanceID()
	assert.False(t, r.Add(CategoryManager, second))
	assert.NotEqual(t, secondID, second.InstanceID())

	// Removing the holder frees the slot.
	require.True(t, r.Remove(first.InstanceID(), first))
	assert.True(t, r.Add(CategoryManager, second))
}

func TestRegistryRemoveVerifiesInstance(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	a := newTestEntity("tile", "a")
	require.True(t, r.Add(CategoryTransform, a))

	other := newTestEntity("tile", "other")
	assert.False(t, r.Remove(a.InstanceID(), other))
	assert.NotNil(t, r.Get(a.InstanceID()))

	assert.True(t, r.Remove(a.InstanceID(), a))
	assert.Nil(t, r.Get(a.InstanceID()))
}

func TestRegistryObserversFireAfterCommit(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var added, removed int
	r.OnAdded(func(cat Category, inst Disposable) {
		added++
		// Committed before notification: the instance is resolvable.
		assert.NotNil(t, r.Get(inst.LifecycleState().InstanceID()))
	})
	r.OnRemoved(func(cat Category, inst Disposable) {
		removed++
		assert.Nil(t, r.Get(inst.LifecycleState().InstanceID()))
	})

	e := newTestEntity("tile", "a")
	require.True(t, r.Add(CategoryTransform, e))
	require.True(t, r.Remove(e.InstanceID(), e))

	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	// A failed add never notifies.
	require.True(t, r.Add(CategoryTransform, e))
	dup := newTestEntity("tile", "dup")
	dup.State.id = e.InstanceID()
	assert.False(t, r.Add(CategoryTransform, dup))
	assert.Equal(t, 2, added)
}

func TestIterateOverInstancesToleratesMidWalkDispose(t *testing.T) {
	log := zap.NewNop()
	r := NewRegistry(log)
	c := NewCoordinator(NewPool(log), r, log)

	entities := make([]*testEntity, 4)
	for i := range entities {
		entities[i] = newTestEntity("tile", "")
		require.True(t, r.Add(CategoryTransform, entities[i]))
	}

	visited := 0
	r.IterateOverInstances(CategoryTransform, func(inst Disposable) bool {
		visited++
		// Dispose everything, including the current instance, mid-walk.
		for _, e := range entities {
			c.Dispose(e, ContextDestroy, DelayNone)
		}
		return true
	})

	// The first callback disposes the rest, so the walk visits exactly one.
	assert.Equal(t, 1, visited)
	assert.Equal(t, 0, r.Count(CategoryTransform))
}

func TestIterateOverInstancesEarlyStop(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	for i := 0; i < 5; i++ {
		require.True(t, r.Add(CategoryTransform, newTestEntity("tile", "")))
	}

	visited := 0
	r.IterateOverInstances(CategoryTransform, func(Disposable) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}

func TestGetAs(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	e := newTestEntity("tile", "a")
	require.True(t, r.Add(CategoryTransform, e))

	got, ok := GetAs[*testEntity](r, e.InstanceID())
	require.True(t, ok)
	assert.Same(t, e, got)

	_, ok = GetAs[*hookedEntity](r, e.InstanceID())
	assert.False(t, ok)
}
