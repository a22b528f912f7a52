package mcts

import (
	"github.com/condorchess/condor/chess"
)

// EdgeAndNode pairs a potential edge with its spawned Node, if any, and
// proxies the accessors selection code wants, falling back to defaults for
// unvisited edges.
type EdgeAndNode struct {
	edge *Edge
	node *Node
}

func (en *EdgeAndNode) Edge() *Edge { return en.edge }
func (en *EdgeAndNode) Node() *Node { return en.node }

func (en *EdgeAndNode) HasNode() bool { return en.node != nil }

func (en *EdgeAndNode) GetMove() chess.Move { return en.edge.Move() }

// GetP prefers the node's (possibly noise-perturbed) prior over the edge's.
func (en *EdgeAndNode) GetP() float32 {
	if en.node != nil {
		return en.node.P()
	}
	return en.edge.P()
}

func (en *EdgeAndNode) GetN() uint32 {
	if en.node == nil {
		return 0
	}
	return en.node.N()
}

func (en *EdgeAndNode) GetNStarted() uint32 {
	if en.node == nil {
		return 0
	}
	return en.node.NStarted()
}

func (en *EdgeAndNode) GetNInFlight() uint32 {
	if en.node == nil {
		return 0
	}
	return en.node.NInFlight()
}

func (en *EdgeAndNode) GetWeightStarted() float64 {
	if en.node == nil {
		return 0
	}
	return en.node.WeightStarted()
}

// GetQ returns the mean action value, or the first-play-urgency default
// for an unvisited edge.
func (en *EdgeAndNode) GetQ(defaultQ, drawScore float64) float64 {
	if en.node != nil && en.node.N() > 0 {
		return en.node.Q(drawScore)
	}
	return defaultQ
}

func (en *EdgeAndNode) GetWL(defaultWL float64) float64 {
	if en.node != nil && en.node.N() > 0 {
		return en.node.WL() / float64(en.node.N())
	}
	return defaultWL
}

func (en *EdgeAndNode) GetD(defaultD float64) float64 {
	if en.node != nil && en.node.N() > 0 {
		return en.node.D() / float64(en.node.N())
	}
	return defaultD
}

func (en *EdgeAndNode) GetM(defaultM float64) float64 {
	if en.node != nil && en.node.N() > 0 {
		return float64(en.node.M()) / float64(en.node.N())
	}
	return defaultM
}

func (en *EdgeAndNode) GetVS(defaultVS float64) float64 {
	if en.node != nil && en.node.N() > 0 {
		return en.node.VS() / float64(en.node.N())
	}
	return defaultVS
}

func (en *EdgeAndNode) IsTerminal() bool {
	return en.node != nil && en.node.IsTerminal()
}

func (en *EdgeAndNode) IsTbTerminal() bool {
	return en.node != nil && en.node.IsTbTerminal()
}

func (en *EdgeAndNode) GetBounds() Bounds {
	if en.node == nil {
		return Bounds{chess.Loss, chess.Win}
	}
	return en.node.GetBounds()
}

// GetU is the exploration term: numerator * P / (1 + NStarted). The caller
// passes numerator = cpuct * pow(Nparent, exponent).
func (en *EdgeAndNode) GetU(numerator float64) float64 {
	return numerator * float64(en.GetP()) / float64(1+en.GetNStarted())
}

// EdgeIterator traverses the parent's edge array lazily paired with the
// chain of spawned children, and can spawn a Node at the cursor with a
// lock-free CAS. Iteration itself must be externally synchronized; only
// GetOrSpawnNode tolerates concurrent spawners.
type EdgeIterator struct {
	EdgeAndNode
	parent  *LowNode
	nodePtr *ownedPtr[Node]
	idx     int
	count   int
}

// Edges returns an iterator over the node's edges.
func (n *Node) Edges() *EdgeIterator { return NewEdgeIterator(n.lowNode) }

func NewEdgeIterator(parent *LowNode) *EdgeIterator {
	it := &EdgeIterator{parent: parent, idx: -1}
	if parent != nil {
		it.nodePtr = &parent.child
		it.count = parent.NumEdges()
	}
	return it
}

// Next advances to the next edge; false past the end.
func (it *EdgeIterator) Next() bool {
	it.idx++
	if it.idx >= it.count {
		it.edge = nil
		it.node = nil
		return false
	}
	it.edge = &it.parent.edges[it.idx]
	it.actualize()
	return true
}

func (it *EdgeIterator) Index() int { return it.idx }

// actualize moves the chain cursor as close as possible to the current
// index and returns the slot's contents for use by the CAS in
// GetOrSpawnNode. Other workers may have inserted siblings since the last
// look, hence the walk.
func (it *EdgeIterator) actualize() *Node {
	node := it.nodePtr.get()
	for node != nil && int(node.Index()) < it.idx {
		it.nodePtr = &node.sibling
		node = it.nodePtr.get()
	}
	if node != nil && int(node.Index()) == it.idx {
		it.node = node
		it.nodePtr = &node.sibling
	} else {
		it.node = nil
	}
	return node
}

// GetOrSpawnNode returns the Node at the cursor, spawning one if no worker
// has yet. Losing the insertion race is clean: the local allocation is
// unlinked and the winner's node returned.
//
// Inserting index 5 between existing 3 and 7:
//  1. remember the slot's contents q (the idx-7 node),
//  2. point the fresh idx-5 node's sibling at q,
//  3. CAS the slot from q to the fresh node,
//  4. on failure unhook the sibling (so q isn't doubly owned) and retry.
func (it *EdgeIterator) GetOrSpawnNode() *Node {
	if it.node != nil {
		return it.node
	}

	var holder ownedPtr[Node]
	holder.set(NewNode(*it.parent.EdgeAt(uint16(it.idx)), uint16(it.idx)))
	for {
		node := it.actualize()
		if it.node != nil {
			return it.node
		}
		fresh := holder.get()
		fresh.sibling.set(node)
		if it.nodePtr.compareExchange(node, &holder) {
			break
		}
		fresh.sibling.release()
	}
	it.actualize()
	return it.node
}

// VisitedNodeIterator walks the children with completed visits. Sorted
// edges let it stop at the first child with neither completed nor in-flight
// visits: everything after it is unvisited too.
type VisitedNodeIterator struct {
	cur     *Node
	head    *Node
	started bool
}

// VisitedNodes iterates the node's children with N > 0.
func (n *Node) VisitedNodes() VisitedNodeIterator {
	return NewVisitedNodeIterator(n.lowNode)
}

func NewVisitedNodeIterator(parent *LowNode) VisitedNodeIterator {
	it := VisitedNodeIterator{}
	if parent != nil {
		it.head = parent.child.get()
	}
	return it
}

func (it *VisitedNodeIterator) Next() bool {
	if !it.started {
		it.started = true
		it.cur = it.head
		if it.cur != nil && it.cur.N() == 0 {
			it.advance()
		}
		return it.cur != nil
	}
	if it.cur != nil {
		it.advance()
	}
	return it.cur != nil
}

func (it *VisitedNodeIterator) advance() {
	for {
		it.cur = it.cur.sibling.get()
		if it.cur == nil {
			return
		}
		if it.cur.N() == 0 {
			if it.cur.NInFlight() == 0 {
				it.cur = nil
				return
			}
			continue
		}
		return
	}
}

func (it *VisitedNodeIterator) Node() *Node { return it.cur }
