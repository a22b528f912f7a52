// Package mcts implements the search DAG and its concurrent engine: the
// two-tier node representation (shared per-position low nodes and
// edge-attached nodes), the transposition table, the lock-free child chain,
// and the batched PUCT rollout workers.
//
// Terminology:
//   - Edge: a potential move with its policy prior.
//   - Node: an existing edge with visit counts and subtree sums.
//   - LowNode: per-position state with the edge array, shared by every path
//     that reaches the position.
//
// Potential edges live in a plain array inside the LowNode. Existing edges
// form a singly linked list: the LowNode's child slot points at the first
// Node, and each Node's sibling slot points at the next, in strictly
// increasing edge-index order.
package mcts

import "sync/atomic"

// ownedPtr is a single-slot owner of a heap object, the link type for the
// child/sibling chain. Ownership is logical (the GC does the reclaiming);
// what matters is that readers chasing the chain pair with the CAS that
// publishes a freshly spawned Node.
type ownedPtr[T any] struct {
	p atomic.Pointer[T]
}

func (o *ownedPtr[T]) get() *T { return o.p.Load() }

// set replaces the owned pointer and returns the old one.
func (o *ownedPtr[T]) set(p *T) *T { return o.p.Swap(p) }

// release gives up ownership, returning the previously owned pointer.
func (o *ownedPtr[T]) release() *T { return o.p.Swap(nil) }

// moveFrom takes ownership from another slot.
func (o *ownedPtr[T]) moveFrom(src *ownedPtr[T]) { o.set(src.release()) }

// compareExchange moves the pointer owned by src into this slot iff the
// slot currently holds expected. On success src no longer owns its pointer.
func (o *ownedPtr[T]) compareExchange(expected *T, src *ownedPtr[T]) bool {
	if o.p.CompareAndSwap(expected, src.get()) {
		src.release()
		return true
	}
	return false
}
