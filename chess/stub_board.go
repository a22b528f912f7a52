package chess

import (
	"github.com/condorchess/condor/zobrist"
)

// StubBoard is a synthetic rules engine for tests and benchmarks. The game
// is an abstract one played on move sequences: every position offers a fixed
// menu of moves, positions are keyed by the (order-insensitive pairs of)
// moves played, and the game ends in a draw after a fixed depth. Two move
// orders that play the same move set transpose to the same key, which gives
// the search DAG real transpositions to chew on.
type StubBoard struct {
	key     uint64
	depth   int
	maxPly  int
	moves   []Move
	black   bool
	outcome Outcome
}

// NewStubBoard builds a root stub position with the given move menu and
// game length. The menu is shared by every position in the game.
func NewStubBoard(moves []Move, maxPly int) *StubBoard {
	if len(moves) > MaxLegalMoves {
		panic("stub board: too many moves")
	}
	ms := make([]Move, len(moves))
	copy(ms, moves)
	return &StubBoard{key: 0x5eed, maxPly: maxPly, moves: ms}
}

func (b *StubBoard) GenerateLegalMoves() []Move {
	if b.outcome != Ongoing {
		return nil
	}
	return b.moves
}

func (b *StubBoard) ApplyMove(m Move) Board {
	nb := *b
	nb.key = zobrist.Mix(b.key, zobrist.MoveKey(uint16(m)))
	nb.depth = b.depth + 1
	nb.black = !b.black
	if nb.depth >= nb.maxPly {
		nb.outcome = DrawByRule
	}
	return &nb
}

func (b *StubBoard) Hash() uint64      { return b.key }
func (b *StubBoard) Outcome() Outcome  { return b.outcome }
func (b *StubBoard) Rule50Ply() int    { return b.depth }
func (b *StubBoard) Transform() int    { return TransformNone }
func (b *StubBoard) BlackToMove() bool { return b.black }

// StubParser hands out fresh stub root boards regardless of the FEN; the
// FEN only participates in equality checks upstream.
type StubParser struct {
	Moves  []Move
	MaxPly int
}

func (p *StubParser) ParseFEN(string) (Board, error) {
	return NewStubBoard(p.Moves, p.MaxPly), nil
}
