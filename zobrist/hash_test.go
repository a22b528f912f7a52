package zobrist

import (
	"testing"

	"github.com/matryer/is"
)

func TestPieceHashInvolution(t *testing.T) {
	is := is.New(t)
	z := &Zobrist{}
	z.Initialize()

	key := uint64(0)
	key = z.Piece(key, 12, 3)
	is.True(key != 0)
	// XORing the same piece off again restores the key.
	key = z.Piece(key, 12, 3)
	is.Equal(key, uint64(0))
}

func TestSideToMove(t *testing.T) {
	is := is.New(t)
	z := &Zobrist{}
	z.Initialize()

	key := z.Piece(0, 0, 1)
	is.True(z.SideToMove(key, true) != key)
	is.Equal(z.SideToMove(key, false), key)
}

func TestCastlingAndEnPassantDistinct(t *testing.T) {
	is := is.New(t)
	z := &Zobrist{}
	z.Initialize()

	seen := map[uint64]bool{}
	for rights := 0; rights < 16; rights++ {
		seen[z.Castling(0, rights)] = true
	}
	is.Equal(len(seen), 16)

	seen = map[uint64]bool{}
	for file := 0; file < 8; file++ {
		seen[z.EnPassantFile(0, file)] = true
	}
	is.Equal(len(seen), 8)
}

func TestMoveKeyStable(t *testing.T) {
	is := is.New(t)
	is.Equal(MoveKey(1234), MoveKey(1234))
	is.True(MoveKey(1234) != MoveKey(1235))
}

func TestMixAvalanches(t *testing.T) {
	is := is.New(t)
	// Mixing nearby values produces far-apart keys.
	a := Mix(0, 1)
	b := Mix(0, 2)
	is.True(a != b)
	is.True(a>>32 != b>>32)
}
