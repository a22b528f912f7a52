package mcts

import (
	"fmt"
	"math"
	"sort"

	"github.com/condorchess/condor/chess"
)

// Edge is an immutable (move, policy prior) pair. The prior is stored in a
// compressed 16-bit float: 5 exponent bits, 11 significand bits, no sign.
// Values are in [0, 1] so the narrow exponent range loses nothing we care
// about.
type Edge struct {
	move chess.Move
	p    uint16
}

const (
	// Encoding moves the float32 exponent bias down by 96 so it fits in 5
	// bits, rounds at the cut, and keeps the top 11 significand bits.
	pCompressRound = 1 << 11
	pExponentShift = 3 << 28
)

func compressP(p float32) uint16 {
	tmp := int32(math.Float32bits(p)) + pCompressRound - pExponentShift
	if tmp < 0 {
		return 0
	}
	return uint16(tmp >> 12)
}

func uncompressP(c uint16) float32 {
	tmp := uint32(c) << 12
	if tmp != 0 {
		tmp += pExponentShift
	}
	return math.Float32frombits(tmp)
}

// EdgesFromMoves builds the edge array for a legal move list, with all
// priors zero.
func EdgesFromMoves(moves []chess.Move) []Edge {
	if len(moves) > chess.MaxLegalMoves {
		panic(fmt.Sprintf("mcts: %d legal moves exceeds limit", len(moves)))
	}
	edges := make([]Edge, len(moves))
	for i, m := range moves {
		edges[i].move = m
	}
	return edges
}

func (e *Edge) Move() chess.Move { return e.move }

// P returns the policy prior.
func (e *Edge) P() float32 { return uncompressP(e.p) }

// SetP stores the policy prior. Must be in [0, 1].
func (e *Edge) SetP(val float32) {
	if val < 0 || val > 1 {
		panic(fmt.Sprintf("mcts: policy %v out of range", val))
	}
	e.p = compressP(val)
}

func (e *Edge) String() string {
	return fmt.Sprintf("%s (p=%.4f)", e.move, e.P())
}

// SortEdges orders the array by policy descending, keeping move order for
// equal policies. This happens exactly once per low node, after the first
// evaluation and before any child Node exists: the visited-node iterator
// depends on unvisited edges staying contiguous at the tail.
func SortEdges(edges []Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].p > edges[j].p
	})
}

// NNEval is one position's evaluation: value/draw/moves-left/policy-gate
// heads plus the edge array carrying the per-move policy.
type NNEval struct {
	Edges []Edge

	Q float32
	D float32
	M float32
	E float32
}

func (ev *NNEval) NumEdges() int { return len(ev.Edges) }
