package load

import (
	"context"
	"fmt"
	"time"
)

// ScopeKey addresses one unit of fetch: a tile of a layer at a zoom level.
type ScopeKey struct {
	Layer string
	Level int
	X, Y  int
}

func (k ScopeKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Layer, k.Level, k.X, k.Y)
}

// Record is one fetched feature. Key is stable within the layer and is what
// reconciliation matches on; Revision fingerprints the properties so an
// unchanged record costs nothing to re-apply.
type Record struct {
	Key        string
	Name       string
	Kind       string
	Properties map[string]any
	Revision   []byte
}

// Result is the outcome of one fetch.
type Result struct {
	Records []Record
	Err     error
}

// Operation is the handle for one in-flight fetch. Cancel is cooperative: a
// completion that fires after cancellation is dropped by the scope's
// generation guard.
type Operation interface {
	Cancel()
	Done() bool
}

// Datasource produces records for a scope key. Implementations may fetch on
// background goroutines but must deliver the completion on the update
// goroutine (via Clock.Post).
type Datasource interface {
	Fetch(ctx context.Context, key ScopeKey, complete func(Result)) Operation
	Close() error
}

// Clock abstracts the scheduler's tick clock: Post transfers a call onto the
// update goroutine, After schedules one on the tick timeline and returns its
// cancel func. The scene scheduler satisfies this without either package
// importing the other.
type Clock interface {
	Post(fn func())
	After(d time.Duration, fn func()) func()
}
