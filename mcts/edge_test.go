package mcts

import (
	"math"
	"testing"

	"github.com/matryer/is"

	"github.com/condorchess/condor/chess"
)

func TestPolicyCompression(t *testing.T) {
	is := is.New(t)

	for _, p := range []float32{0, 1e-6, 0.001, 0.2119, 0.25, 0.5, 0.5761, 0.99, 1.0} {
		var e Edge
		e.SetP(p)
		got := e.P()
		is.True(got >= 0 && got <= 1)
		if math.Abs(float64(got-p)) > 1.2e-4 {
			t.Fatalf("p=%v round-tripped to %v", p, got)
		}
	}

	// Exact at the endpoints.
	var e Edge
	e.SetP(0)
	is.Equal(e.P(), float32(0))
	e.SetP(1)
	is.Equal(e.P(), float32(1))
}

func TestPolicyCompressionMonotone(t *testing.T) {
	prev := uint16(0)
	for i := 0; i <= 1000; i++ {
		c := compressP(float32(i) / 1000)
		if c < prev {
			t.Fatalf("compression not monotone at %d: %d < %d", i, c, prev)
		}
		prev = c
	}
}

func TestSortEdges(t *testing.T) {
	is := is.New(t)

	moves := []chess.Move{
		mustMove(t, "a2a3"),
		mustMove(t, "b2b3"),
		mustMove(t, "c2c3"),
		mustMove(t, "d2d3"),
	}
	edges := EdgesFromMoves(moves)
	edges[0].SetP(0.1)
	edges[1].SetP(0.6)
	edges[2].SetP(0.1)
	edges[3].SetP(0.2)

	SortEdges(edges)

	is.Equal(edges[0].Move(), mustMove(t, "b2b3"))
	is.Equal(edges[1].Move(), mustMove(t, "d2d3"))
	// Equal policies keep move order (stable sort).
	is.Equal(edges[2].Move(), mustMove(t, "a2a3"))
	is.Equal(edges[3].Move(), mustMove(t, "c2c3"))
}

func TestEdgesFromMovesLimit(t *testing.T) {
	moves := make([]chess.Move, chess.MaxLegalMoves+1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for oversized move list")
		}
	}()
	EdgesFromMoves(moves)
}

func mustMove(t *testing.T, uci string) chess.Move {
	t.Helper()
	m, err := chess.ParseMove(uci)
	if err != nil {
		t.Fatal(err)
	}
	return m
}
