package load

import (
	"bytes"

	"github.com/strata3d/engine/internal/lifecycle"
)

// Persistent is an object whose data is sourced from a datasource record.
// Persistents are registered under CategoryPersistent and may be shared by
// several load scopes; the loader reference-counts them and disposes one
// only when its last scope lets go. They pool by record kind.
type Persistent struct {
	lifecycle.State

	sourceKey string
	name      string
	kind      string
	props     map[string]any
	revision  []byte
}

// NewPersistent builds a persistent from a record.
func NewPersistent(rec Record) *Persistent {
	p := &Persistent{State: lifecycle.NewState()}
	p.ApplyRecord(rec)
	return p
}

// SourceKey returns the record key the persistent mirrors.
func (p *Persistent) SourceKey() string { return p.sourceKey }

func (p *Persistent) Name() string { return p.name }

// Kind namespaces the record kind so persistents never share a pool free
// list with scene nodes.
func (p *Persistent) Kind() string {
	if p.kind == "" {
		return ""
	}
	return "persistent/" + p.kind
}

// RecordKind returns the raw record kind.
func (p *Persistent) RecordKind() string { return p.kind }

// Property reads one property value.
func (p *Persistent) Property(key string) (any, bool) {
	v, ok := p.props[key]
	return v, ok
}

// Properties returns the live property map; callers must not mutate it.
func (p *Persistent) Properties() map[string]any { return p.props }

// Revision returns the content fingerprint of the current properties.
func (p *Persistent) Revision() []byte { return p.revision }

// UpToDate reports whether rec carries the same content revision.
func (p *Persistent) UpToDate(rec Record) bool {
	return len(p.revision) > 0 && bytes.Equal(p.revision, rec.Revision)
}

// ApplyRecord overwrites the persistent's data from a fetched record.
func (p *Persistent) ApplyRecord(rec Record) {
	p.sourceKey = rec.Key
	p.name = rec.Name
	p.kind = rec.Kind
	p.props = rec.Properties
	p.revision = rec.Revision
}

// Recycle erases record data for pool reuse, keeping the kind so the free
// list stays homogeneous.
func (p *Persistent) Recycle() {
	p.sourceKey = ""
	p.name = ""
	p.props = nil
	p.revision = nil
}
