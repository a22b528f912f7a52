package mcts

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/condorchess/condor/chess"
)

// Node localizes one incoming edge at a shared LowNode: the move that got
// here, this path's visit counts, and subtree sums seen from the mover's
// perspective (flipped relative to the LowNode's own view).
//
// nInFlight is the virtual-loss counter and the only field touched without
// a logical exclusive claim. FinalizeScoreUpdate writes the sums before
// decrementing nInFlight; a reader that observes the decrement also
// observes the sums.
type Node struct {
	wl     float64
	vs     float64
	weight float64
	d      float64

	lowNode *LowNode
	sibling ownedPtr[Node]

	m         float32
	n         uint32
	nInFlight atomic.Int32

	edge  Edge
	index uint16

	terminalType Terminal
	lowerBound   chess.GameResult
	upperBound   chess.GameResult
	repetition   bool
}

// NewNode creates a node for the edge at the given index in its parent's
// edge array.
func NewNode(edge Edge, index uint16) *Node {
	return &Node{
		edge:       edge,
		index:      index,
		lowerBound: chess.Loss,
		upperBound: chess.Win,
	}
}

func (n *Node) Index() uint16 { return n.index }

func (n *Node) Move() chess.Move { return n.edge.Move() }

// P is the policy prior for this edge; noise may have perturbed the value
// copied from the parent's edge array.
func (n *Node) P() float32       { return n.edge.P() }
func (n *Node) SetP(val float32) { n.edge.SetP(val) }

func (n *Node) LowNode() *LowNode { return n.lowNode }

// SetLowNode binds the node to its shared position state.
func (n *Node) SetLowNode(ln *LowNode) {
	if n.lowNode != nil {
		panic("mcts: node already bound to a low node")
	}
	n.lowNode = ln
	ln.AddParent()
}

// UnsetLowNode unbinds without GC bookkeeping. Prefer unbindLowNode inside
// the tree.
func (n *Node) UnsetLowNode() {
	if n.lowNode != nil {
		n.lowNode.RemoveParent()
		n.lowNode = nil
	}
}

// unbindLowNode releases this node's subtree: the low node loses a parent,
// and if that was the last one it is queued for deferred destruction.
func (n *Node) unbindLowNode(gc *GCQueue) {
	if n.lowNode == nil {
		return
	}
	ln := n.lowNode
	n.lowNode = nil
	ln.RemoveParent()
	if ln.NumParents() == 0 {
		gc.Push(ln)
	}
}

func (n *Node) Sibling() *ownedPtr[Node] { return &n.sibling }

// MoveSiblingIn takes ownership of a sibling chain.
func (n *Node) MoveSiblingIn(s *ownedPtr[Node]) { n.sibling.moveFrom(s) }

// FirstChild returns the head of the visited-children chain, nil for a
// leaf.
func (n *Node) FirstChild() *Node {
	if n.lowNode == nil {
		return nil
	}
	return n.lowNode.child.get()
}

func (n *Node) HasChildren() bool {
	return n.lowNode != nil && n.lowNode.HasChildren()
}

func (n *Node) NumEdges() int {
	if n.lowNode == nil {
		return 0
	}
	return n.lowNode.NumEdges()
}

func (n *Node) N() uint32 { return n.n }

func (n *Node) NInFlight() uint32 {
	v := n.nInFlight.Load()
	if v < 0 {
		panic("mcts: negative n-in-flight")
	}
	return uint32(v)
}

// NStarted counts completed plus in-flight visits; selection treats the
// in-flight part as virtual loss.
func (n *Node) NStarted() uint32 { return n.n + n.NInFlight() }

func (n *Node) Weight() float64 { return n.weight }

// WeightStarted estimates total weight including in-flight visits at unit
// weight each.
func (n *Node) WeightStarted() float64 {
	return n.weight + float64(n.NInFlight())
}

// ChildrenVisits sums completed visits over the visited children.
func (n *Node) ChildrenVisits() uint32 {
	var total uint32
	for it := n.VisitedNodes(); it.Next(); {
		total += it.Node().N()
	}
	return total
}

// TotalVisits counts this node's completed visits plus its children's.
func (n *Node) TotalVisits() uint32 {
	return n.n + n.ChildrenVisits()
}

// VisitedPolicy is the prior mass of children with at least one completed
// visit.
func (n *Node) VisitedPolicy() float32 {
	var total float32
	for it := n.VisitedNodes(); it.Next(); {
		total += it.Node().P()
	}
	return total
}

func (n *Node) WL() float64     { return n.wl }
func (n *Node) D() float64      { return n.d }
func (n *Node) M() float32      { return n.m }
func (n *Node) VS() float64     { return n.vs }

// Q is the mean action value with the given draw score folded in.
func (n *Node) Q(drawScore float64) float64 {
	if n.n == 0 {
		return 0
	}
	return (n.wl + drawScore*n.d) / float64(n.n)
}

func (n *Node) IsTerminal() bool   { return n.terminalType != NonTerminal }
func (n *Node) IsTbTerminal() bool { return n.terminalType == Tablebase }
func (n *Node) GetBounds() Bounds  { return Bounds{n.lowerBound, n.upperBound} }

func (n *Node) SetBounds(lower, upper chess.GameResult) {
	n.lowerBound = lower
	n.upperBound = upper
}

func (n *Node) SetRepetition()     { n.repetition = true }
func (n *Node) IsRepetition() bool { return n.repetition }

func (n *Node) Hash() uint64 {
	if n.lowNode == nil {
		return 0
	}
	return n.lowNode.Hash()
}

func (n *Node) IsTT() bool { return n.lowNode != nil && n.lowNode.IsTT() }

// MakeTerminal fixes the node's result: sums are rescaled so every average
// comes out at the exact terminal value. The visit that discovered the
// terminal still finalizes normally, which is what gives a fresh terminal
// node its first completed visit.
func (n *Node) MakeTerminal(result chess.GameResult, pliesLeft float32, typ Terminal) {
	n.SetBounds(result, result)
	n.terminalType = typ
	nf := float64(n.n)
	v := float64(result)
	n.wl = v * nf
	if result == chess.Draw {
		n.d = nf
	} else {
		n.d = 0
	}
	n.m = pliesLeft * float32(nf)
	n.vs = v * v * nf
	n.weight = nf
}

// MakeNotTerminal reverts a terminal verdict, restoring sums from the
// shared low node (flipped into this edge's perspective). When alsoLowNode
// is set the low node is reverted too, using this node's accumulators.
func (n *Node) MakeNotTerminal(alsoLowNode bool) {
	if alsoLowNode && n.lowNode != nil && n.lowNode.IsTerminal() {
		n.lowNode.MakeNotTerminal(n)
	}
	n.terminalType = NonTerminal
	n.lowerBound = chess.Loss
	n.upperBound = chess.Win
	if n.lowNode != nil && n.lowNode.N() > 0 {
		n.n = n.lowNode.N()
		n.wl = -n.lowNode.WL()
		n.d = n.lowNode.D()
		n.m = n.lowNode.M()
		n.vs = n.lowNode.VS()
		n.weight = n.lowNode.Weight()
	}
}

// TryStartScoreUpdate claims a visit. It fails only when the node is being
// expanded for the first time by another worker (n == 0 with exactly one
// visit in flight); a fresh unexpanded node admits a single in-flight
// visit.
func (n *Node) TryStartScoreUpdate() bool {
	for {
		flight := n.nInFlight.Load()
		if n.n == 0 && flight == 1 {
			return false
		}
		if n.nInFlight.CompareAndSwap(flight, flight+1) {
			return true
		}
	}
}

// IncrementNInFlight amplifies the claim when one descent is accounted as
// several visits (collisions, terminal revisits).
func (n *Node) IncrementNInFlight(multivisit uint32) {
	n.nInFlight.Add(int32(multivisit))
}

// CancelScoreUpdate abandons claimed visits without a value.
func (n *Node) CancelScoreUpdate(multivisit uint32) {
	if n.nInFlight.Add(-int32(multivisit)) < 0 {
		panic("mcts: CancelScoreUpdate below zero")
	}
}

// FinalizeScoreUpdate converts virtual loss into completed visits. The
// accumulator writes happen before the in-flight decrement; that order is
// what lets other workers use nInFlight as the "visit landed" signal.
func (n *Node) FinalizeScoreUpdate(v, d, m, vs float64, multivisit uint32, weight float64) {
	k := float64(multivisit)
	n.wl += k * v
	n.d += k * d
	n.m += float32(k * m)
	n.vs += k * vs
	n.weight += weight
	n.n += multivisit

	if n.nInFlight.Add(-int32(multivisit)) < 0 {
		panic("mcts: FinalizeScoreUpdate below zero in-flight")
	}
}

// AdjustForTerminal corrects already-counted visits by a delta without
// changing n.
func (n *Node) AdjustForTerminal(v, d, m, vs float64, multivisit uint32, weight float64) {
	k := float64(multivisit)
	n.wl += k * v
	n.d += k * d
	n.m += float32(k * m)
	n.vs += k * vs
	n.weight += weight
}

// Trim resets visit statistics and terminal state while keeping the edge,
// index, sibling chain and the link to the shared low node. Used at the
// search head to drop stale incoming-visit statistics without discarding
// the DAG underneath.
func (n *Node) Trim() {
	n.wl = 0
	n.d = 0
	n.m = 0
	n.vs = 0
	n.weight = 0
	n.n = 0
	n.nInFlight.Store(0)
	n.terminalType = NonTerminal
	n.lowerBound = chess.Loss
	n.upperBound = chess.Win
	n.repetition = false
}

// ReleaseChildrenExceptOne forwards to the shared low node. The saved node
// may be moved into the head slot; rebind pointers after calling.
func (n *Node) ReleaseChildrenExceptOne(saved *Node, gc *GCQueue) {
	if n.lowNode != nil {
		n.lowNode.ReleaseChildrenExceptOne(saved, gc)
	}
}

func (n *Node) SortEdges() { n.lowNode.SortEdges() }

// WLDMInvariantsHold checks |wl| <= n and 0 <= d <= n for visited nodes.
func (n *Node) WLDMInvariantsHold() bool {
	if n.n == 0 {
		return true
	}
	nf := float64(n.n)
	return absf(n.wl) <= nf+1e-6 && n.d >= -1e-6 && n.d <= nf+1e-6
}

// ZeroNInFlight walks the DAG under the node and reports whether every
// reachable node has no visits in flight, logging each violator.
func (n *Node) ZeroNInFlight() bool {
	seen := make(map[*LowNode]bool)
	ok := true
	var walk func(node *Node)
	walk = func(node *Node) {
		if f := node.nInFlight.Load(); f != 0 {
			ok = false
			log.Error().
				Str("node", node.DebugString()).
				Int32("nInFlight", f).
				Msg("n-in-flight not zero")
		}
		ln := node.lowNode
		if ln == nil || seen[ln] {
			return
		}
		seen[ln] = true
		for child := ln.child.get(); child != nil; child = child.sibling.get() {
			walk(child)
		}
	}
	walk(n)
	return ok
}

func (n *Node) DebugString() string {
	return fmt.Sprintf("<Node %s idx=%d n=%d inflight=%d wl=%.3f d=%.3f term=%d>",
		n.edge.Move(), n.index, n.n, n.nInFlight.Load(), n.wl, n.d, n.terminalType)
}

// DotEdgeString describes the edge from the node's parent to its low node
// in Graphviz dot format.
func (n *Node) DotEdgeString(parent *LowNode) string {
	from := "head"
	if parent != nil {
		from = fmt.Sprintf("%016x", parent.Hash())
	}
	return fmt.Sprintf("\"%s\" -> \"%016x\" [label=\"%s n=%d\"]",
		from, n.Hash(), n.edge.Move(), n.n)
}

// DotGraphString renders the graph under the node in Graphviz dot format.
func (n *Node) DotGraphString() string {
	var b strings.Builder
	b.WriteString("digraph search {\n")
	seen := make(map[*LowNode]bool)
	var walk func(node *Node, parent *LowNode)
	walk = func(node *Node, parent *LowNode) {
		b.WriteString("  " + node.DotEdgeString(parent) + "\n")
		ln := node.lowNode
		if ln == nil || seen[ln] {
			return
		}
		seen[ln] = true
		b.WriteString("  " + ln.DotNodeString() + "\n")
		for child := ln.child.get(); child != nil; child = child.sibling.get() {
			walk(child, ln)
		}
	}
	walk(n, nil)
	b.WriteString("}\n")
	return b.String()
}
