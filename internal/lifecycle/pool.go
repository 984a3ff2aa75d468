package lifecycle

import (
	"go.uber.org/zap"
)

// defaultPoolCap bounds each kind's free list so a burst of disposes cannot
// pin an unbounded amount of memory.
const defaultPoolCap = 64

// Pool keeps per-kind LIFO free lists of recycled instances. LIFO keeps the
// most recently touched instance hottest in cache. Single-goroutine access
// only (update loop).
type Pool struct {
	enabled bool
	kindCap int
	free    map[string][]Poolable
	log     *zap.Logger
}

func NewPool(log *zap.Logger) *Pool {
	return &Pool{
		enabled: true,
		kindCap: defaultPoolCap,
		free:    make(map[string][]Poolable),
		log:     log,
	}
}

// SetEnabled toggles pooling globally. Disabled, both operations short-circuit
// and callers fall back to destroy-or-allocate everywhere.
func (p *Pool) SetEnabled(v bool) { p.enabled = v }

func (p *Pool) Enabled() bool { return p.enabled }

// SetKindCap changes the per-kind free-list bound.
func (p *Pool) SetKindCap(n int) {
	if n > 0 {
		p.kindCap = n
	}
}

// AddToPool recycles inst and parks it on its kind's free list. Returns false
// when the instance is refused (pooling disabled, non-poolable, kindless,
// already pooled, or the free list is full); the caller then destroys it.
func (p *Pool) AddToPool(inst Poolable) bool {
	if !p.enabled || inst == nil {
		return false
	}
	st := inst.LifecycleState()
	if st.pooled || st.disposed || st.nonPoolable {
		return false
	}
	kind := inst.Kind()
	if kind == "" {
		return false
	}
	if len(p.free[kind]) >= p.kindCap {
		return false
	}
	inst.Recycle()
	st.completePool()
	p.free[kind] = append(p.free[kind], inst)
	if p.log != nil {
		p.log.Debug("instance pooled",
			zap.String("kind", kind),
			zap.Int("free", len(p.free[kind])),
		)
	}
	return true
}

// GetFromPool returns the most recently pooled instance of the exact kind,
// revived with cleared flags and a fresh instance ID, or nil when the caller
// must allocate fresh.
func (p *Pool) GetFromPool(kind string) Poolable {
	if !p.enabled {
		return nil
	}
	list := p.free[kind]
	if len(list) == 0 {
		return nil
	}
	inst := list[len(list)-1]
	p.free[kind] = list[:len(list)-1]
	inst.LifecycleState().reclaim()
	return inst
}

// Len returns the free-list length for a kind.
func (p *Pool) Len(kind string) int {
	return len(p.free[kind])
}

// Clear drops every free list. Parked instances become garbage.
func (p *Pool) Clear() {
	p.free = make(map[string][]Poolable)
}
