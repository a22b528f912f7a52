package mcts

import (
	"testing"

	"github.com/matryer/is"

	"github.com/condorchess/condor/chess"
)

func stubTree(t *testing.T) (*NodeTree, []chess.Move) {
	t.Helper()
	moves := []chess.Move{
		mustMove(t, "e2e4"), mustMove(t, "d2d4"), mustMove(t, "g1f3"),
		mustMove(t, "c2c4"), mustMove(t, "b1c3"), mustMove(t, "c7c5"),
	}
	parser := &chess.StubParser{Moves: moves, MaxPly: 64}
	return NewDefaultNodeTree(parser), moves
}

// expandHead gives the current head an evaluated low node so MakeMove can
// walk through it the way a searched tree would.
func expandHead(t *testing.T, tree *NodeTree) {
	t.Helper()
	head := tree.CurrentHead()
	if head.LowNode() != nil && head.LowNode().IsEvaluated() {
		return
	}
	hash := tree.GetHistoryHash(tree.PositionHistory(), -1)
	ln, _ := tree.TTGetOrCreate(hash)
	if head.LowNode() == nil {
		head.SetLowNode(ln)
	}
	if !ln.IsEvaluated() {
		moves := tree.HeadPosition().Board().GenerateLegalMoves()
		edges := EdgesFromMoves(moves)
		for i := range edges {
			edges[i].SetP(1 / float32(len(edges)))
		}
		ln.SetNNEval(&NNEval{Edges: edges, Q: 0.1, D: 0.2, M: 30})
	}
}

func TestResetToPositionFresh(t *testing.T) {
	is := is.New(t)

	tree, moves := stubTree(t)
	reused := tree.ResetToPosition("startfen", []chess.Move{moves[0]})
	is.True(!reused)
	is.True(tree.CurrentHead() != nil)
	is.Equal(len(tree.Moves()), 1)
	is.Equal(tree.PositionHistory().Len(), 2)
}

func TestResetToPositionPrefixExtension(t *testing.T) {
	is := is.New(t)

	tree, moves := stubTree(t)
	e2e4, c7c5, g1f3 := moves[0], moves[5], moves[2]

	tree.ResetToPosition("startfen", []chess.Move{e2e4, c7c5})
	expandHead(t, tree)
	oldHead := tree.CurrentHead()
	allocated := tree.AllocatedNodeCount()

	// Extending the same game reuses the tree.
	reused := tree.ResetToPosition("startfen", []chess.Move{e2e4, c7c5, g1f3})
	is.True(reused)
	is.True(tree.CurrentHead() != oldHead)
	is.Equal(tree.CurrentHead().Move(), g1f3)
	// Nothing was detached from the table by the reuse walk.
	is.True(tree.AllocatedNodeCount() >= allocated)

	// A different second move is a different game: full rebuild.
	reused = tree.ResetToPosition("startfen", []chess.Move{moves[1]})
	is.True(!reused)

	// Everything unreachable drains through the GC queue.
	for tree.TTGCSome(0) {
	}
	tree.TTMaintenance()
	tree.NonTTMaintenance()
	for tree.TTGCSome(0) {
	}
	count := 0
	for _, ln := range tree.tt {
		if ln.NumParents() == 0 {
			count++
		}
	}
	is.Equal(count, 0)
}

func TestResetToPositionDifferentStartRebuilds(t *testing.T) {
	is := is.New(t)

	tree, moves := stubTree(t)
	tree.ResetToPosition("startfen", []chess.Move{moves[0]})
	reused := tree.ResetToPosition("otherfen", []chess.Move{moves[0]})
	is.True(!reused)
}

func TestMakeMoveSpawnsAndAdvances(t *testing.T) {
	is := is.New(t)

	tree, moves := stubTree(t)
	tree.ResetToPosition("startfen", nil)
	expandHead(t, tree)

	gamebegin := tree.GameBeginNode()
	tree.MakeMove(moves[0])

	is.Equal(tree.CurrentHead().Move(), moves[0])
	is.Equal(len(tree.Moves()), 1)
	is.True(gamebegin.FirstChild() == tree.CurrentHead())
}

func TestTrimTreeAtHead(t *testing.T) {
	is := is.New(t)

	tree, moves := stubTree(t)
	tree.ResetToPosition("startfen", []chess.Move{moves[0]})
	expandHead(t, tree)

	head := tree.CurrentHead()
	head.TryStartScoreUpdate()
	head.FinalizeScoreUpdate(0.5, 0.1, 20, 0.25, 1, 1)
	ln := head.LowNode()

	tree.TrimTreeAtHead()
	is.Equal(head.N(), uint32(0))
	is.True(head.LowNode() == ln)
}

func TestTTGetOrCreate(t *testing.T) {
	is := is.New(t)

	tree, _ := stubTree(t)
	ln, inserted := tree.TTGetOrCreate(0x123)
	is.True(inserted)
	is.True(ln.IsTT())

	again, inserted := tree.TTGetOrCreate(0x123)
	is.True(!inserted)
	is.True(again == ln)

	is.True(tree.TTFind(0x123) == ln)
	is.True(tree.TTFind(0x999) == nil)
}

func TestTTMaintenanceDetachesOrphans(t *testing.T) {
	is := is.New(t)

	tree, _ := stubTree(t)
	orphan, _ := tree.TTGetOrCreate(0x100)
	kept, _ := tree.TTGetOrCreate(0x200)
	keeper := NewNode(Edge{}, 0)
	keeper.SetLowNode(kept)

	tree.TTMaintenance()
	is.True(tree.TTFind(0x100) == nil)
	is.True(!orphan.IsTT())
	is.True(tree.TTFind(0x200) == kept)

	// The orphan is destroyed by the deferred GC pass.
	is.True(!tree.TTGCSome(0))
	is.Equal(tree.GC().Len(), 0)
}

func TestTTGCSomeCascades(t *testing.T) {
	is := is.New(t)

	tree, _ := stubTree(t)
	// parent low node -> child node -> child low node
	parent := evaluatedLowNode(t, 0x300, []string{"e2e4"}, 0.1)
	tree.ttMu.Lock()
	tree.tt[0x300] = parent
	tree.ttMu.Unlock()

	childLn, _ := tree.TTGetOrCreate(0x301)
	it := NewEdgeIterator(parent)
	it.Next()
	childNode := it.GetOrSpawnNode()
	childNode.SetLowNode(childLn)

	// Nothing references the parent: one maintenance sweep detaches it and
	// the GC cascade takes the child low node with it.
	tree.TTMaintenance()
	is.True(tree.TTFind(0x300) == nil)
	is.True(tree.TTFind(0x301) != nil)

	for tree.TTGCSome(1) {
		tree.TTMaintenance()
	}
	tree.TTMaintenance()
	tree.TTGCSome(0)
	is.True(tree.TTFind(0x301) == nil)
}

func TestNonTTAddClone(t *testing.T) {
	is := is.New(t)

	tree, _ := stubTree(t)
	src := evaluatedLowNode(t, 0x400, []string{"e2e4", "d2d4"}, 0.25)
	clone := tree.NonTTAddClone(src)

	is.True(clone != src)
	is.True(!clone.IsTT())
	is.Equal(clone.Hash(), src.Hash())
	is.Equal(clone.NumEdges(), src.NumEdges())
	is.Equal(clone.N(), src.N())
	// Open question (b): the policy-gate estimate is inherited.
	is.Equal(clone.E(), src.E())
	is.Equal(clone.NumParents(), uint16(0))
	is.True(!clone.IsTransposition())
}

func TestClearTTUnconditional(t *testing.T) {
	is := is.New(t)

	ln := NewTTLowNode(0x1)
	is.True(ln.IsTT())
	ln.ClearTT()
	is.True(!ln.IsTT())
	// Clearing twice must not toggle it back on.
	ln.ClearTT()
	is.True(!ln.IsTT())
}
