// Package neural holds the network abstractions the search consumes: the
// batched computation interface, the evaluation cache with scoped locks,
// and the caching batch collector that folds cache hits and novel positions
// into one evaluator call.
package neural

import (
	"github.com/condorchess/condor/chess"
	"github.com/condorchess/condor/mcts"
)

// EncodedInput is one position encoded into network input planes.
type EncodedInput []float32

// NetworkComputation accumulates encoded inputs and evaluates them in a
// single batch. Indices into the results follow AddInput order.
type NetworkComputation interface {
	AddInput(input EncodedInput)
	// ComputeBlocking evaluates everything added so far. A failure is
	// fatal to the search; callers unwind virtual losses before
	// propagating it.
	ComputeBlocking() error
	BatchSize() int

	Q(idx int) float32
	D(idx int) float32
	M(idx int) float32
	E(idx int) float32
	// P returns the raw policy logit for a move's flat index.
	P(idx int, nnIndex int) float32
}

// Network creates computations. Implementations decide batch limits; the
// collector simply forwards whatever it accumulates.
type Network interface {
	NewComputation() NetworkComputation
}

// Encoder turns a position history into network input, reporting the board
// transform used so policy logits can be read back in canonical
// coordinates.
type Encoder interface {
	Encode(history *chess.PositionHistory, fill mcts.HistoryFill) (EncodedInput, int)
}

// PlaneEncoder is a minimal encoder: a short plane vector derived from the
// position key, enough to drive backends that do not care about real board
// planes (the random network, tests, benches).
type PlaneEncoder struct {
	Planes int
}

func (e *PlaneEncoder) Encode(history *chess.PositionHistory, _ mcts.HistoryFill) (EncodedInput, int) {
	n := e.Planes
	if n <= 0 {
		n = 16
	}
	input := make(EncodedInput, n)
	key := history.Last().Hash()
	for i := range input {
		key = key*6364136223846793005 + 1442695040888963407
		input[i] = float32(int32(key>>33)) / (1 << 31)
	}
	return input, history.Last().Board().Transform()
}
