package mcts

import (
	"fmt"

	"github.com/condorchess/condor/chess"
)

// Terminal classifies how a position's result became known.
type Terminal uint8

const (
	NonTerminal Terminal = iota
	EndOfGame
	Tablebase
)

// Bounds is the provable result range of a position.
type Bounds struct {
	Lower, Upper chess.GameResult
}

// LowNode is the per-position state shared by every path that reaches the
// position. Accumulators (wl, d, m, vs, weight) are sums over completed
// visits, from the perspective of the side to move here; averages are
// sum/n. v and e are the raw network outputs and are never averaged.
//
// All fields except the child head are mutated only by a worker holding a
// logical exclusive claim on the visit (virtual loss); the child head is
// the lock-free chain published by GetOrSpawnNode.
type LowNode struct {
	wl     float64
	vs     float64
	weight float64
	d      float64

	hash uint64

	edges []Edge
	child ownedPtr[Node]

	m float32
	v float32
	e float32
	n uint32

	numParents uint16

	terminalType    Terminal
	lowerBound      chess.GameResult
	upperBound      chess.GameResult
	isTransposition bool
	isTT            bool
}

// NewTTLowNode creates the shell that sits in the transposition table
// before the position is evaluated.
func NewTTLowNode(hash uint64) *LowNode {
	return &LowNode{
		hash:       hash,
		lowerBound: chess.Loss,
		upperBound: chess.Win,
		isTT:       true,
	}
}

// CloneLowNode deep-copies edges and accumulators from src into an unshared
// low node stored under the given hash. The copy resets transposition and
// terminal state; e is inherited from the source. Used for positions that
// are about to be noise-perturbed or are otherwise unfit for sharing.
func CloneLowNode(src *LowNode, hash uint64) *LowNode {
	if src.edges == nil {
		panic("mcts: cloning an unevaluated low node")
	}
	edges := make([]Edge, len(src.edges))
	copy(edges, src.edges)
	return &LowNode{
		wl:         src.wl,
		vs:         src.vs,
		weight:     src.weight,
		d:          src.d,
		hash:       hash,
		edges:      edges,
		m:          src.m,
		v:          src.v,
		e:          src.e,
		n:          src.n,
		lowerBound: chess.Loss,
		upperBound: chess.Win,
	}
}

// NewLowNodeWithMoves builds an unshared low node straight from a legal
// move list, with zero policy everywhere and the first child already
// spawned at index. Used when the game line must advance through a position
// that was never evaluated.
func NewLowNodeWithMoves(hash uint64, moves []chess.Move, index uint16) *LowNode {
	ln := &LowNode{
		hash:       hash,
		edges:      EdgesFromMoves(moves),
		lowerBound: chess.Loss,
		upperBound: chess.Win,
	}
	ln.child.set(NewNode(ln.edges[index], index))
	return ln
}

// SetNNEval fills an empty shell from a network evaluation. The eval counts
// as the low node's first visit, so the backup path must not finalize the
// low node again for the visit that produced the eval.
func (ln *LowNode) SetNNEval(eval *NNEval) {
	if ln.edges != nil || ln.n != 0 || ln.child.get() != nil {
		panic("mcts: SetNNEval on a non-empty low node")
	}
	ln.edges = make([]Edge, len(eval.Edges))
	copy(ln.edges, eval.Edges)

	q := float64(eval.Q)
	ln.wl = q
	ln.v = eval.Q
	ln.d = float64(eval.D)
	ln.e = eval.E
	ln.m = eval.M
	ln.vs = q * q
	ln.weight = 1
	ln.n = 1

	if !ln.WLDMInvariantsHold() {
		panic("mcts: bad eval " + ln.DebugString())
	}
}

func (ln *LowNode) Child() *ownedPtr[Node] { return &ln.child }

// HasChildren reports whether the position has any legal continuation.
func (ln *LowNode) HasChildren() bool { return len(ln.edges) > 0 }

func (ln *LowNode) N() uint32 { return ln.n }

// ChildrenVisits excludes the visit that evaluated this position.
func (ln *LowNode) ChildrenVisits() uint32 {
	if ln.n == 0 {
		return 0
	}
	return ln.n - 1
}

func (ln *LowNode) WL() float64     { return ln.wl }
func (ln *LowNode) V() float32      { return ln.v }
func (ln *LowNode) D() float64      { return ln.d }
func (ln *LowNode) E() float32      { return ln.e }
func (ln *LowNode) M() float32      { return ln.m }
func (ln *LowNode) VS() float64     { return ln.vs }
func (ln *LowNode) Weight() float64 { return ln.weight }

func (ln *LowNode) IsTerminal() bool       { return ln.terminalType != NonTerminal }
func (ln *LowNode) TerminalType() Terminal { return ln.terminalType }
func (ln *LowNode) GetBounds() Bounds      { return Bounds{ln.lowerBound, ln.upperBound} }

func (ln *LowNode) NumEdges() int { return len(ln.edges) }
func (ln *LowNode) Edges() []Edge { return ln.edges }

func (ln *LowNode) EdgeAt(index uint16) *Edge { return &ln.edges[index] }

// IsEvaluated reports whether the shell has received an eval or a terminal
// verdict.
func (ln *LowNode) IsEvaluated() bool {
	return ln.edges != nil || ln.IsTerminal()
}

// MakeTerminal overrides the accumulators with the deterministic result,
// regardless of prior visits: sums are rescaled so every average comes out
// at the exact terminal value. The visit that discovered the terminal still
// finalizes normally afterwards.
func (ln *LowNode) MakeTerminal(result chess.GameResult, pliesLeft float32, typ Terminal) {
	ln.SetBounds(result, result)
	ln.terminalType = typ
	n := float64(ln.n)
	v := float64(result)
	ln.wl = v * n
	if result == chess.Draw {
		ln.d = n
	} else {
		ln.d = 0
	}
	ln.m = pliesLeft * float32(n)
	ln.vs = v * v * n
	ln.weight = n
}

// MakeNotTerminal reverts a terminal verdict, restoring the sums from the
// incoming node's accumulators (flipped back into this position's
// perspective).
func (ln *LowNode) MakeNotTerminal(incoming *Node) {
	ln.terminalType = NonTerminal
	ln.lowerBound = chess.Loss
	ln.upperBound = chess.Win
	if incoming != nil && incoming.N() > 0 {
		ln.n = incoming.N()
		ln.wl = -incoming.WL()
		ln.d = incoming.D()
		ln.m = incoming.M()
		ln.vs = incoming.VS()
		ln.weight = incoming.Weight()
	}
}

func (ln *LowNode) SetBounds(lower, upper chess.GameResult) {
	ln.lowerBound = lower
	ln.upperBound = upper
}

// FinalizeScoreUpdate lands a completed visit: every accumulator moves by
// multivisit times its per-visit value.
func (ln *LowNode) FinalizeScoreUpdate(v, d, m, vs float64, multivisit uint32, weight float64) {
	k := float64(multivisit)
	ln.wl += k * v
	ln.d += k * d
	ln.m += float32(k * m)
	ln.vs += k * vs
	ln.weight += weight
	ln.n += multivisit
}

// AdjustForTerminal applies a delta against existing visits without
// changing n. Used when a subtree turns terminal and already-counted visits
// must be corrected.
func (ln *LowNode) AdjustForTerminal(v, d, m, vs float64, multivisit uint32, weight float64) {
	k := float64(multivisit)
	ln.wl += k * v
	ln.d += k * d
	ln.m += float32(k * m)
	ln.vs += k * vs
	ln.weight += weight
}

// AddParent records a new incoming Node reference. Crossing one parent
// permanently marks the position as a transposition.
func (ln *LowNode) AddParent() {
	ln.numParents++
	if ln.numParents == 0 {
		panic("mcts: parent count overflow")
	}
	if ln.numParents > 1 {
		ln.isTransposition = true
	}
}

func (ln *LowNode) RemoveParent() {
	if ln.numParents == 0 {
		panic("mcts: RemoveParent on an orphan low node")
	}
	ln.numParents--
}

func (ln *LowNode) NumParents() uint16   { return ln.numParents }
func (ln *LowNode) IsTransposition() bool { return ln.isTransposition }

func (ln *LowNode) Hash() uint64 { return ln.hash }
func (ln *LowNode) IsTT() bool   { return ln.isTT }

// ClearTT marks the low node as no longer reachable through the
// transposition table. Unconditional: a search boundary never re-admits a
// node by toggling.
func (ln *LowNode) ClearTT() { ln.isTT = false }

// SortEdges establishes the policy-descending order. Only legal before the
// first child is spawned.
func (ln *LowNode) SortEdges() {
	if ln.edges == nil {
		panic("mcts: sorting a low node without edges")
	}
	if ln.child.get() != nil {
		panic("mcts: sorting after children exist")
	}
	SortEdges(ln.edges)
}

// ReleaseChildren detaches the whole child chain, queueing low nodes whose
// last parent went away.
func (ln *LowNode) ReleaseChildren(gc *GCQueue) {
	for node := ln.child.release(); node != nil; node = node.sibling.release() {
		node.unbindLowNode(gc)
	}
}

// ReleaseChildrenExceptOne detaches all sibling subtrees other than the one
// containing saved, which is moved into the head slot. Callers must rebind
// any pointers into the chain afterwards.
func (ln *LowNode) ReleaseChildrenExceptOne(saved *Node, gc *GCQueue) {
	var keep *Node
	for node := ln.child.release(); node != nil; {
		next := node.sibling.release()
		if node == saved {
			keep = node
		} else {
			node.unbindLowNode(gc)
		}
		node = next
	}
	if keep != nil {
		ln.child.set(keep)
	}
}

// WLDMInvariantsHold checks the accumulator sanity conditions.
func (ln *LowNode) WLDMInvariantsHold() bool {
	if ln.n == 0 {
		return true
	}
	n := float64(ln.n)
	return absf(ln.wl) <= n+1e-6 && ln.d >= -1e-6 && ln.d <= n+1e-6
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func (ln *LowNode) DebugString() string {
	return fmt.Sprintf(
		"<LowNode %016x n=%d parents=%d edges=%d wl=%.3f d=%.3f m=%.2f term=%d tt=%v>",
		ln.hash, ln.n, ln.numParents, len(ln.edges), ln.wl, ln.d, ln.m,
		ln.terminalType, ln.isTT)
}

// DotNodeString describes the low node in Graphviz dot format.
func (ln *LowNode) DotNodeString() string {
	return fmt.Sprintf("\"%016x\" [label=\"n=%d\\nwl=%.2f d=%.2f\"]",
		ln.hash, ln.n, ln.wl, ln.d)
}
