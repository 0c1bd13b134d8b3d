package dbc

import (
	"sync"
	"weak"
)

// compactThreshold is the entry count (live entries plus cleared ones not
// yet removed) above which Register compacts cleared entries out of its
// backing map, per spec.md §3 ("periodically compacted when the set grows
// beyond ~50 entries").
const compactThreshold = 50

// Registry tracks a Connection's live children (PreparedStatements, and for
// the cursor driver, ResultSets) without keeping them alive: entries are
// weak.Pointer, so a statement or result set the application has otherwise
// dropped can still be collected even though it remains registered. This is
// the Go rendering of spec.md §3/§9's "weak-reference registry, compacted
// when it grows beyond ~50 entries" — the registry's own mutex is separate
// from the Connection's (recursive, cursor-driver-only) mutex precisely so a
// child can unregister itself during its own close without deadlocking
// (spec.md §5).
type Registry[T any] struct {
	mu      sync.Mutex
	members map[uint64]weak.Pointer[T]
	nextID  uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{members: make(map[uint64]weak.Pointer[T])}
}

// Register adds v to the registry and returns a handle used to unregister
// it later.
func (r *Registry[T]) Register(v *T) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.members[id] = weak.Make(v)
	if len(r.members) > compactThreshold {
		r.compactLocked()
	}
	return id
}

// Unregister removes the entry for id, if present. Idempotent.
func (r *Registry[T]) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
}

// Snapshot returns the currently-live members. Per spec.md §9 ("Statement-
// transaction coupling"): callers that need to act on every live member
// (e.g. closing all cursor ResultSets before ending a transaction) must
// collect this snapshot, release the registry lock (already done by the
// time Snapshot returns), and only then drive each member — never call back
// into the registry while iterating under its lock.
func (r *Registry[T]) Snapshot() []*T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*T, 0, len(r.members))
	dead := make([]uint64, 0)
	for id, wp := range r.members {
		if v := wp.Value(); v != nil {
			out = append(out, v)
		} else {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(r.members, id)
	}
	return out
}

// Len reports the number of registry slots, including any not-yet-compacted
// dead entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// compactLocked drops entries whose weak pointer has already been cleared.
// Must be called with mu held.
func (r *Registry[T]) compactLocked() {
	for id, wp := range r.members {
		if wp.Value() == nil {
			delete(r.members, id)
		}
	}
}
