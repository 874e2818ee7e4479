package shadow

import "sync/atomic"

// Hooks bundles a Model with the monotonically increasing CallID counter
// SPEC_FULL.md §4.5 step 1 requires on every dispatcher invocation. One
// Hooks value is shared by the whole dispatcher for the life of the mount.
type Hooks struct {
	Model  *Model
	nextID atomic.Uint64
}

// NewHooks wraps model with a fresh CallID counter.
func NewHooks(model *Model) *Hooks {
	return &Hooks{Model: model}
}

// NextCallID returns the next monotonically increasing call identifier.
func (h *Hooks) NextCallID() uint64 {
	return h.nextID.Add(1)
}

// Token is the opaque snapshot a Before hook hands to its matching After
// hook, per SPEC_FULL.md §4.4. Every operation family embeds this as their
// token's first field so the dispatcher can log a common CallID/Op pair
// regardless of which operation produced the token.
type Token struct {
	CallID uint64
	Op     string
}
