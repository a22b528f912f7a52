// Package chess holds the types the search core consumes from the rules
// engine: moves, game results, positions and position history. The actual
// rules engine (legal move generation, make/unmake, draw detection) lives
// behind the Board interface.
package chess

import (
	"fmt"
)

// MaxLegalMoves bounds the number of legal moves in any reachable position.
const MaxLegalMoves = 256

// Move is a from-square, to-square and optional promotion piece packed into
// 16 bits: bits 0-5 to, bits 6-11 from, bits 12-14 promotion.
type Move uint16

// Promotion pieces. None means the move is not a promotion.
const (
	PromoNone uint8 = iota
	PromoKnight
	PromoBishop
	PromoRook
	PromoQueen
)

func NewMove(from, to uint8, promo uint8) Move {
	return Move(uint16(to)&0x3f | uint16(from&0x3f)<<6 | uint16(promo&0x7)<<12)
}

func (m Move) To() uint8        { return uint8(m & 0x3f) }
func (m Move) From() uint8      { return uint8((m >> 6) & 0x3f) }
func (m Move) Promotion() uint8 { return uint8((m >> 12) & 0x7) }

var promoChars = [...]string{"", "n", "b", "r", "q"}

func squareName(sq uint8) string {
	return fmt.Sprintf("%c%c", 'a'+sq%8, '1'+sq/8)
}

// UCI returns the move in long algebraic notation, e.g. e2e4 or e7e8q.
func (m Move) UCI() string {
	s := squareName(m.From()) + squareName(m.To())
	if p := m.Promotion(); p != PromoNone && int(p) < len(promoChars) {
		s += promoChars[p]
	}
	return s
}

func (m Move) String() string { return m.UCI() }

// ParseMove parses long algebraic notation.
func ParseMove(s string) (Move, error) {
	if len(s) < 4 || len(s) > 5 {
		return 0, fmt.Errorf("bad move string %q", s)
	}
	sq := func(file, rank byte) (uint8, error) {
		if file < 'a' || file > 'h' || rank < '1' || rank > '8' {
			return 0, fmt.Errorf("bad square in move %q", s)
		}
		return (rank-'1')*8 + (file - 'a'), nil
	}
	from, err := sq(s[0], s[1])
	if err != nil {
		return 0, err
	}
	to, err := sq(s[2], s[3])
	if err != nil {
		return 0, err
	}
	promo := PromoNone
	if len(s) == 5 {
		switch s[4] {
		case 'n':
			promo = PromoKnight
		case 'b':
			promo = PromoBishop
		case 'r':
			promo = PromoRook
		case 'q':
			promo = PromoQueen
		default:
			return 0, fmt.Errorf("bad promotion in move %q", s)
		}
	}
	return NewMove(from, to, promo), nil
}

// Board transforms used to canonicalize symmetric positions before NN input.
// TransformNone leaves the board alone; the mirror transforms flip files,
// ranks or both.
const (
	TransformNone = iota
	TransformMirrorFile
	TransformMirrorRank
	TransformMirrorBoth
)

func transformSquare(sq uint8, transform int) uint8 {
	file, rank := sq%8, sq/8
	if transform&TransformMirrorFile != 0 {
		file = 7 - file
	}
	if transform&TransformMirrorRank != 0 {
		rank = 7 - rank
	}
	return rank*8 + file
}

// nnPolicySize is the size of the flat policy head: one slot per from/to
// square pair plus a block for underpromotions (queen promotions map to the
// plain from/to slot).
const nnPolicySize = 64*64 + 64*3

// AsNNIndex maps the move into the policy head's flat index space after
// applying the board transform.
func (m Move) AsNNIndex(transform int) int {
	from := transformSquare(m.From(), transform)
	to := transformSquare(m.To(), transform)
	switch p := m.Promotion(); p {
	case PromoNone, PromoQueen:
		return int(from)*64 + int(to)
	default:
		// Underpromotions are distinguished by source file, piece and
		// target file.
		return 64*64 + int(from%8)*24 + int(p-PromoKnight)*8 + int(to%8)
	}
}

// NNPolicySize returns the length of the policy vector the core expects
// per position.
func NNPolicySize() int { return nnPolicySize }
