package datasource

import "context"

// operation is the shared fetch handle. done flips on the update goroutine
// right before the completion runs, so no extra synchronization is needed
// for readers on that goroutine.
type operation struct {
	cancel context.CancelFunc
	done   bool
}

func (o *operation) Cancel() {
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *operation) Done() bool { return o.done }
