package mcts

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/condorchess/condor/chess"
)

// GCQueue collects low nodes whose last parent went away, for deferred
// destruction. Splitting detach from destroy keeps search steps from
// stalling on arbitrary deallocation chains.
type GCQueue struct {
	mu    sync.Mutex
	items []*LowNode
}

func (q *GCQueue) Push(ln *LowNode) {
	q.mu.Lock()
	q.items = append(q.items, ln)
	q.mu.Unlock()
}

func (q *GCQueue) pop() *LowNode {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	ln := q.items[0]
	q.items = q.items[1:]
	return ln
}

func (q *GCQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NodeTree anchors the search DAG: the game-begin node, the current head
// cursor, the position history, the transposition table holding the shared
// low nodes, and the pool of low nodes intentionally kept out of it.
type NodeTree struct {
	currentHead   *Node
	gamebeginNode *Node
	history       chess.PositionHistory
	moves         []chess.Move
	startFEN      string

	parser chess.BoardParser

	ttMu  sync.RWMutex
	tt    map[uint64]*LowNode
	nonTT []*LowNode

	hashHistoryLength int

	gcQueue GCQueue
}

// NewNodeTree applies the cache-history parameter from a params snapshot.
func NewNodeTree(params *SearchParams, parser chess.BoardParser) *NodeTree {
	return &NodeTree{
		parser:            parser,
		tt:                make(map[uint64]*LowNode),
		hashHistoryLength: params.CacheHistoryLength() + 1,
	}
}

// NewDefaultNodeTree is for contexts without search params.
func NewDefaultNodeTree(parser chess.BoardParser) *NodeTree {
	return &NodeTree{
		parser:            parser,
		tt:                make(map[uint64]*LowNode),
		hashHistoryLength: 1,
	}
}

func (t *NodeTree) CurrentHead() *Node   { return t.currentHead }
func (t *NodeTree) GameBeginNode() *Node { return t.gamebeginNode }

func (t *NodeTree) PositionHistory() *chess.PositionHistory { return &t.history }
func (t *NodeTree) Moves() []chess.Move                     { return t.moves }
func (t *NodeTree) GC() *GCQueue                            { return &t.gcQueue }

func (t *NodeTree) HeadPosition() *chess.Position { return t.history.Last() }
func (t *NodeTree) PlyCount() int                 { return t.HeadPosition().GamePly() }
func (t *NodeTree) IsBlackToMove() bool           { return t.HeadPosition().Board().BlackToMove() }

// GetHistoryHash fingerprints the hash-history window of a position
// history; used as TT and NN cache key.
func (t *NodeTree) GetHistoryHash(h *chess.PositionHistory, r50Ply int) uint64 {
	return h.HashLast(t.hashHistoryLength, r50Ply)
}

// MakeMove advances the current head to the child for the move, spawning it
// if needed, releases the sibling subtrees (the moves not played), and
// extends the history and move list.
func (t *NodeTree) MakeMove(m chess.Move) {
	head := t.currentHead
	var newHead *Node
	if head.LowNode() != nil && head.LowNode().HasChildren() {
		for it := head.Edges(); it.Next(); {
			if it.Edge().Move() == m {
				newHead = it.GetOrSpawnNode()
				break
			}
		}
	}
	if newHead == nil {
		// Head was never evaluated; build an unshared low node with
		// zero-policy edges so the played line can be followed.
		moves := t.HeadPosition().Board().GenerateLegalMoves()
		index := -1
		for i, lm := range moves {
			if lm == m {
				index = i
				break
			}
		}
		if index < 0 {
			panic(fmt.Sprintf("mcts: move %s is not legal at the head", m))
		}
		hash := t.GetHistoryHash(&t.history, -1)
		ln := NewLowNodeWithMoves(hash, moves, uint16(index))
		t.nonTT = append(t.nonTT, ln)
		head.SetLowNode(ln)
		newHead = ln.child.get()
	}
	if newHead.IsTerminal() {
		newHead.MakeNotTerminal(true)
	}
	head.ReleaseChildrenExceptOne(newHead, &t.gcQueue)
	// The saved node may have been moved into the head slot; rebind.
	t.currentHead = head.FirstChild()
	t.history.Append(m)
	t.moves = append(t.moves, m)
}

// TrimTreeAtHead drops the incoming-visit statistics accumulated at the
// current head by a previous search while keeping the DAG underneath.
func (t *NodeTree) TrimTreeAtHead() {
	t.currentHead.Trim()
}

// ResetToPosition sets the tree to the position reached by moves from the
// starting FEN, reusing the existing DAG when the new move list extends the
// previous one. Returns false when the tree had to be rebuilt.
func (t *NodeTree) ResetToPosition(startFEN string, moves []chess.Move) bool {
	if t.gamebeginNode != nil && !t.isPrefixExtension(startFEN, moves) {
		t.DeallocateTree()
	}

	if t.gamebeginNode == nil {
		board, err := t.parser.ParseFEN(startFEN)
		if err != nil {
			panic(fmt.Sprintf("mcts: bad starting position %q: %v", startFEN, err))
		}
		t.startFEN = startFEN
		t.history.Reset(board, 0)
		t.gamebeginNode = NewNode(Edge{}, 0)
		t.currentHead = t.gamebeginNode
		t.moves = nil

		for _, m := range moves {
			t.MakeMove(m)
		}
		return false
	}

	oldHead := t.currentHead
	seenOldHead := t.gamebeginNode == oldHead
	// Rewind to the game begin and replay; the shared prefix walks existing
	// nodes, the extension spawns new ones.
	board, err := t.parser.ParseFEN(startFEN)
	if err != nil {
		panic(fmt.Sprintf("mcts: bad starting position %q: %v", startFEN, err))
	}
	t.history.Reset(board, 0)
	t.moves = nil
	t.currentHead = t.gamebeginNode
	for _, m := range moves {
		t.MakeMove(m)
		if t.currentHead == oldHead {
			seenOldHead = true
		}
	}
	if !seenOldHead {
		// The old head was not on the new line; its stats are for a
		// different search boundary.
		t.TrimTreeAtHead()
	}
	return seenOldHead
}

func (t *NodeTree) isPrefixExtension(startFEN string, moves []chess.Move) bool {
	if t.startFEN != startFEN || len(moves) < len(t.moves) {
		return false
	}
	for i, m := range t.moves {
		if moves[i] != m {
			return false
		}
	}
	return true
}

// TTFind looks up a low node by position hash.
func (t *NodeTree) TTFind(hash uint64) *LowNode {
	t.ttMu.RLock()
	defer t.ttMu.RUnlock()
	return t.tt[hash]
}

// TTGetOrCreate returns the low node for the hash, allocating a shell and
// inserting it on a miss. The second result reports whether an insert
// happened.
func (t *NodeTree) TTGetOrCreate(hash uint64) (*LowNode, bool) {
	t.ttMu.Lock()
	defer t.ttMu.Unlock()
	if ln, ok := t.tt[hash]; ok {
		return ln, false
	}
	ln := NewTTLowNode(hash)
	t.tt[hash] = ln
	return ln, true
}

// TTGetOrCreateClone inserts a clone of the prototype under a possibly
// different hash; used when the chess side rotates keys for the same
// position.
func (t *NodeTree) TTGetOrCreateClone(proto *LowNode, hash uint64) (*LowNode, bool) {
	t.ttMu.Lock()
	defer t.ttMu.Unlock()
	if ln, ok := t.tt[hash]; ok {
		return ln, false
	}
	ln := CloneLowNode(proto, hash)
	ln.isTT = true
	t.tt[hash] = ln
	return ln, true
}

// NonTTAddClone clones a low node into the unshared pool; the clone can
// then be noise-perturbed without contaminating the shared entry.
func (t *NodeTree) NonTTAddClone(src *LowNode) *LowNode {
	ln := CloneLowNode(src, src.Hash())
	t.nonTT = append(t.nonTT, ln)
	return ln
}

// TTMaintenance detaches unused low nodes from the transposition table and
// queues them for deferred destruction.
func (t *NodeTree) TTMaintenance() {
	t.ttMu.Lock()
	defer t.ttMu.Unlock()
	for hash, ln := range t.tt {
		if ln.NumParents() == 0 {
			delete(t.tt, hash)
			ln.ClearTT()
			t.gcQueue.Push(ln)
		}
	}
}

// NonTTMaintenance does the same sweep over the unshared pool.
func (t *NodeTree) NonTTMaintenance() {
	kept := t.nonTT[:0]
	for _, ln := range t.nonTT {
		if ln.NumParents() == 0 {
			t.gcQueue.Push(ln)
		} else {
			kept = append(kept, ln)
		}
	}
	t.nonTT = kept
}

// TTClear empties the transposition table. Safe only after all non-TT
// references have been dropped.
func (t *NodeTree) TTClear() {
	t.ttMu.Lock()
	defer t.ttMu.Unlock()
	for hash, ln := range t.tt {
		ln.ClearTT()
		delete(t.tt, hash)
	}
}

// TTGCSome destroys up to count queued low nodes (count <= 0 drains the
// queue), releasing their child chains, which may queue further nodes.
// Returns true if work remains.
func (t *NodeTree) TTGCSome(count int) bool {
	done := 0
	for count <= 0 || done < count {
		ln := t.gcQueue.pop()
		if ln == nil {
			break
		}
		if ln.NumParents() > 0 {
			// Re-parented since it was queued; it lives on.
			continue
		}
		if ln.IsTT() {
			t.ttMu.Lock()
			if t.tt[ln.Hash()] == ln {
				delete(t.tt, ln.Hash())
			}
			t.ttMu.Unlock()
			ln.ClearTT()
		} else {
			t.removeFromNonTT(ln)
		}
		ln.ReleaseChildren(&t.gcQueue)
		done++
	}
	return t.gcQueue.Len() > 0
}

func (t *NodeTree) removeFromNonTT(ln *LowNode) {
	for i, cand := range t.nonTT {
		if cand == ln {
			t.nonTT = append(t.nonTT[:i], t.nonTT[i+1:]...)
			return
		}
	}
}

// AllocatedNodeCount counts the low nodes alive in the table and the pool.
func (t *NodeTree) AllocatedNodeCount() int {
	t.ttMu.RLock()
	defer t.ttMu.RUnlock()
	return len(t.tt) + len(t.nonTT)
}

// DeallocateTree drops the whole game line. Low nodes cascade through the
// GC queue; drive TTGCSome to actually reclaim them.
func (t *NodeTree) DeallocateTree() {
	if t.gamebeginNode != nil {
		t.gamebeginNode.unbindLowNode(&t.gcQueue)
	}
	t.gamebeginNode = nil
	t.currentHead = nil
	t.startFEN = ""
	t.moves = nil
	log.Debug().Int("gc-queued", t.gcQueue.Len()).Msg("tree deallocated")
}
