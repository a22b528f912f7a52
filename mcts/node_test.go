package mcts

import (
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"

	"github.com/condorchess/condor/chess"
)

func evaluatedLowNode(t *testing.T, hash uint64, ucis []string, q float32) *LowNode {
	t.Helper()
	moves := make([]chess.Move, len(ucis))
	for i, u := range ucis {
		moves[i] = mustMove(t, u)
	}
	edges := EdgesFromMoves(moves)
	for i := range edges {
		edges[i].SetP(1 / float32(len(edges)))
	}
	ln := NewTTLowNode(hash)
	ln.SetNNEval(&NNEval{Edges: edges, Q: q, D: 0.1, M: 10})
	return ln
}

func TestFinalizeScoreUpdateDeltas(t *testing.T) {
	is := is.New(t)

	n := NewNode(Edge{}, 0)
	is.True(n.TryStartScoreUpdate())
	n.IncrementNInFlight(2)
	is.Equal(n.NInFlight(), uint32(3))

	n.FinalizeScoreUpdate(0.5, 0.25, 12, 0.25, 3, 3)

	is.Equal(n.N(), uint32(3))
	is.Equal(n.NInFlight(), uint32(0))
	assert.InDelta(t, 1.5, n.WL(), 1e-9)
	assert.InDelta(t, 0.75, n.D(), 1e-9)
	assert.InDelta(t, 36.0, float64(n.M()), 1e-4)
	assert.InDelta(t, 0.75, n.VS(), 1e-9)
	assert.InDelta(t, 3.0, n.Weight(), 1e-9)
	is.True(n.WLDMInvariantsHold())
}

func TestTryStartScoreUpdateFreshNodeRule(t *testing.T) {
	is := is.New(t)

	n := NewNode(Edge{}, 0)
	// A fresh unexpanded node admits exactly one in-flight visit.
	is.True(n.TryStartScoreUpdate())
	is.True(!n.TryStartScoreUpdate())

	// Once a visit completed, parallel claims are fine again.
	n.FinalizeScoreUpdate(0.1, 0, 1, 0.01, 1, 1)
	is.True(n.TryStartScoreUpdate())
	is.True(n.TryStartScoreUpdate())
	n.CancelScoreUpdate(2)
	is.Equal(n.NInFlight(), uint32(0))
}

func TestCancelScoreUpdateBelowZeroPanics(t *testing.T) {
	n := NewNode(Edge{}, 0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	n.CancelScoreUpdate(1)
}

func TestMakeTerminalThenVisits(t *testing.T) {
	is := is.New(t)

	ln := evaluatedLowNode(t, 0xabc, []string{"e2e4", "d2d4"}, 0.3)
	c := NewNode(*ln.EdgeAt(0), 0)
	c.SetLowNode(ln)

	// The visit that discovers the terminal claims, marks, finalizes.
	is.True(c.TryStartScoreUpdate())
	c.MakeTerminal(chess.Win, 0, EndOfGame)
	c.FinalizeScoreUpdate(1, 0, 0, 1, 1, 1)

	is.Equal(c.N(), uint32(1))
	assert.InDelta(t, 1.0, c.WL(), 1e-9)
	assert.InDelta(t, 0.0, c.D(), 1e-9)
	assert.InDelta(t, 0.0, float64(c.M()), 1e-9)
	is.Equal(c.GetBounds(), Bounds{chess.Win, chess.Win})
	is.True(c.IsTerminal())

	// Subsequent visits amplify without re-entering the network.
	c.IncrementNInFlight(5)
	c.FinalizeScoreUpdate(1, 0, 0, 1, 5, 5)
	is.Equal(c.N(), uint32(6))
	assert.InDelta(t, 6.0, c.WL(), 1e-9)
	is.Equal(c.NInFlight(), uint32(0))
	is.True(c.WLDMInvariantsHold())
}

func TestLowNodeMakeTerminalAndNotTerminal(t *testing.T) {
	is := is.New(t)

	ln := evaluatedLowNode(t, 0xdef, []string{"e2e4", "d2d4"}, 0.3)
	incoming := NewNode(*ln.EdgeAt(0), 0)
	incoming.SetLowNode(ln)

	// Give the incoming node some history before the verdict.
	incoming.TryStartScoreUpdate()
	incoming.FinalizeScoreUpdate(-0.3, 0.1, 11, 0.09, 1, 1)

	ln.MakeTerminal(chess.Loss, 3, Tablebase)
	is.True(ln.IsTerminal())
	is.Equal(ln.TerminalType(), Tablebase)
	is.Equal(ln.GetBounds(), Bounds{chess.Loss, chess.Loss})
	assert.InDelta(t, -float64(ln.N()), ln.WL(), 1e-9)

	ln.MakeNotTerminal(incoming)
	is.True(!ln.IsTerminal())
	is.Equal(ln.GetBounds(), Bounds{chess.Loss, chess.Win})
	is.Equal(ln.N(), incoming.N())
	assert.InDelta(t, -incoming.WL(), ln.WL(), 1e-9)
}

func TestAdjustForTerminalKeepsN(t *testing.T) {
	is := is.New(t)

	n := NewNode(Edge{}, 0)
	n.TryStartScoreUpdate()
	n.FinalizeScoreUpdate(0.5, 0.2, 10, 0.25, 1, 1)

	before := n.N()
	n.AdjustForTerminal(0.5, -0.2, 1, 0.75, 1, 0)
	is.Equal(n.N(), before)
	assert.InDelta(t, 1.0, n.WL(), 1e-9)
	assert.InDelta(t, 0.0, n.D(), 1e-9)
}

func TestParentAccounting(t *testing.T) {
	is := is.New(t)

	ln := NewTTLowNode(0x1)
	is.Equal(ln.NumParents(), uint16(0))
	is.True(!ln.IsTransposition())

	ln.AddParent()
	is.True(!ln.IsTransposition())
	ln.AddParent()
	is.True(ln.IsTransposition())

	// is_transposition is monotone: dropping back to one parent does not
	// clear it.
	ln.RemoveParent()
	is.Equal(ln.NumParents(), uint16(1))
	is.True(ln.IsTransposition())
}

func TestSetNNEvalSeedsFirstVisit(t *testing.T) {
	is := is.New(t)

	ln := evaluatedLowNode(t, 0x2, []string{"e2e4", "d2d4", "g1f3"}, 0.4)
	is.Equal(ln.N(), uint32(1))
	is.Equal(ln.ChildrenVisits(), uint32(0))
	assert.InDelta(t, float64(float32(0.4)), ln.WL(), 1e-9)
	assert.InDelta(t, 0.4, float64(ln.V()), 1e-6)
	assert.InDelta(t, 0.16, ln.VS(), 1e-6)
	is.Equal(ln.NumEdges(), 3)
	is.True(ln.WLDMInvariantsHold())
}

func TestSetNNEvalOnNonEmptyPanics(t *testing.T) {
	ln := evaluatedLowNode(t, 0x3, []string{"e2e4"}, 0.1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	ln.SetNNEval(&NNEval{})
}

func TestTrimKeepsSubtree(t *testing.T) {
	is := is.New(t)

	ln := evaluatedLowNode(t, 0x4, []string{"e2e4", "d2d4"}, 0.2)
	n := NewNode(*ln.EdgeAt(0), 0)
	n.SetLowNode(ln)
	n.TryStartScoreUpdate()
	n.FinalizeScoreUpdate(0.2, 0.1, 9, 0.04, 1, 1)

	n.Trim()
	is.Equal(n.N(), uint32(0))
	is.Equal(n.NInFlight(), uint32(0))
	is.True(!n.IsTerminal())
	// The DAG underneath stays linked.
	is.True(n.LowNode() == ln)
}

func TestZeroNInFlight(t *testing.T) {
	is := is.New(t)

	ln := evaluatedLowNode(t, 0x5, []string{"e2e4", "d2d4"}, 0.2)
	root := NewNode(Edge{}, 0)
	root.SetLowNode(ln)

	it := NewEdgeIterator(ln)
	is.True(it.Next())
	child := it.GetOrSpawnNode()
	is.True(root.ZeroNInFlight())

	child.TryStartScoreUpdate()
	is.True(!root.ZeroNInFlight())
	child.CancelScoreUpdate(1)
	is.True(root.ZeroNInFlight())
}
