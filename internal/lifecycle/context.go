package lifecycle

// ContextStack is a scoped stack of dispose contexts. Callbacks fired during
// a dispose can query the innermost context without any package-level global;
// With guarantees the prior value is restored on every exit path.
type ContextStack struct {
	stack []DisposeContext
}

// Current returns the innermost active context, or ContextUnknown when no
// dispose is in progress.
func (cs *ContextStack) Current() DisposeContext {
	if len(cs.stack) == 0 {
		return ContextUnknown
	}
	return cs.stack[len(cs.stack)-1]
}

// With runs fn with ctx pushed. The pop runs even if fn panics.
func (cs *ContextStack) With(ctx DisposeContext, fn func()) {
	cs.stack = append(cs.stack, ctx)
	defer func() {
		cs.stack = cs.stack[:len(cs.stack)-1]
	}()
	fn()
}

// Depth returns the number of nested dispose scopes.
func (cs *ContextStack) Depth() int {
	return len(cs.stack)
}
