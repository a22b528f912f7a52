package chess

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
)

// Board is the rules-engine surface the search consumes. Implementations
// are immutable: ApplyMove returns a successor board.
type Board interface {
	// GenerateLegalMoves returns the legal moves in a stable order. Never
	// more than MaxLegalMoves.
	GenerateLegalMoves() []Move
	// ApplyMove returns the position after the move.
	ApplyMove(Move) Board
	// Hash is the position key. Two boards with equal hashes are treated
	// as the same position.
	Hash() uint64
	// Outcome reports whether the game has ended on this board.
	Outcome() Outcome
	// Rule50Ply is the halfmove clock for the fifty-move rule.
	Rule50Ply() int
	// Transform identifies the symmetry canonicalizing this position for
	// NN input.
	Transform() int
	// BlackToMove reports the side to move.
	BlackToMove() bool
}

// BoardParser turns a FEN string into a starting board. Implemented by the
// rules engine.
type BoardParser interface {
	ParseFEN(fen string) (Board, error)
}

// Position is a board plus the game-history facts the search cares about.
type Position struct {
	board       Board
	gamePly     int
	repetitions int
}

func NewPosition(b Board, gamePly, repetitions int) Position {
	return Position{board: b, gamePly: gamePly, repetitions: repetitions}
}

func (p *Position) Board() Board     { return p.board }
func (p *Position) GamePly() int     { return p.gamePly }
func (p *Position) Repetitions() int { return p.repetitions }
func (p *Position) Hash() uint64     { return p.board.Hash() }

// PositionHistory is the sequence of positions from the game start (or the
// root FEN) to the current head.
type PositionHistory struct {
	positions []Position
}

// Reset replaces the history with a single starting position.
func (h *PositionHistory) Reset(b Board, gamePly int) {
	h.positions = h.positions[:0]
	h.positions = append(h.positions, NewPosition(b, gamePly, 0))
}

// Append plays a move on the last position and appends the result,
// recounting repetitions over the stored history.
func (h *PositionHistory) Append(m Move) {
	last := h.Last()
	nb := last.board.ApplyMove(m)
	reps := 0
	for i := len(h.positions) - 1; i >= 0; i-- {
		if h.positions[i].Hash() == nb.Hash() {
			reps++
		}
	}
	h.positions = append(h.positions, NewPosition(nb, last.gamePly+1, reps))
}

// Pop removes the last position.
func (h *PositionHistory) Pop() {
	h.positions = h.positions[:len(h.positions)-1]
}

func (h *PositionHistory) Len() int { return len(h.positions) }

func (h *PositionHistory) Last() *Position {
	return &h.positions[len(h.positions)-1]
}

func (h *PositionHistory) At(i int) *Position { return &h.positions[i] }

// Copy returns an independent history sharing the (immutable) boards.
func (h *PositionHistory) Copy() PositionHistory {
	cp := make([]Position, len(h.positions))
	copy(cp, h.positions)
	return PositionHistory{positions: cp}
}

// Trim drops every position past the first n.
func (h *PositionHistory) Trim(n int) {
	h.positions = h.positions[:n]
}

// HashLast fingerprints the most recent n positions of the history. Older
// positions do not contribute. When r50Ply is non-negative it is mixed in
// so that otherwise-identical positions with different halfmove clocks get
// distinct keys.
func (h *PositionHistory) HashLast(n int, r50Ply int) uint64 {
	if n < 1 {
		n = 1
	}
	if n > len(h.positions) {
		n = len(h.positions)
	}
	var buf [8]byte
	d := xxhash.New()
	for i := len(h.positions) - n; i < len(h.positions); i++ {
		binary.LittleEndian.PutUint64(buf[:], h.positions[i].Hash())
		d.Write(buf[:])
	}
	if r50Ply >= 0 {
		binary.LittleEndian.PutUint64(buf[:], uint64(r50Ply))
		d.Write(buf[:])
	}
	return d.Sum64()
}
