package chess

import (
	"testing"

	"github.com/matryer/is"
)

func historyAfter(t *testing.T, menu []Move, played []Move) *PositionHistory {
	t.Helper()
	h := &PositionHistory{}
	h.Reset(NewStubBoard(menu, 100), 0)
	for _, m := range played {
		h.Append(m)
	}
	return h
}

func TestHashLastWindow(t *testing.T) {
	is := is.New(t)

	menu := []Move{
		NewMove(8, 16, PromoNone),
		NewMove(9, 17, PromoNone),
		NewMove(10, 18, PromoNone),
	}

	// Two games that differ only in the distant past but converge on the
	// same recent positions.
	a := historyAfter(t, menu, []Move{menu[0], menu[1], menu[2]})
	b := historyAfter(t, menu, []Move{menu[1], menu[0], menu[2]})

	// Position keys transpose, so a window of 1 sees no difference.
	is.Equal(a.HashLast(1, -1), b.HashLast(1, -1))
	// A longer window reaches the differing history.
	is.True(a.HashLast(3, -1) != b.HashLast(3, -1))

	// The fifty-move counter distinguishes otherwise-identical keys.
	is.True(a.HashLast(1, 10) != a.HashLast(1, 11))
	is.Equal(a.HashLast(1, 10), a.HashLast(1, 10))
}

func TestHashLastWindowClamp(t *testing.T) {
	is := is.New(t)

	menu := []Move{NewMove(8, 16, PromoNone)}
	h := historyAfter(t, menu, []Move{menu[0]})
	// Requesting more history than exists clamps instead of panicking.
	is.Equal(h.HashLast(10, -1), h.HashLast(2, -1))
}

func TestAppendTracksRepetitions(t *testing.T) {
	is := is.New(t)

	menu := []Move{NewMove(8, 16, PromoNone), NewMove(9, 17, PromoNone)}
	h := historyAfter(t, menu, nil)

	// Playing the same move twice cancels in the stub board's key, so the
	// position after four plies repeats the start.
	h.Append(menu[0])
	is.Equal(h.Last().Repetitions(), 0)
	h.Append(menu[0])
	is.Equal(h.Last().Repetitions(), 1)
	h.Append(menu[0])
	h.Append(menu[0])
	is.Equal(h.Last().Repetitions(), 2)
}

func TestMoveParseRoundTrip(t *testing.T) {
	is := is.New(t)

	for _, uci := range []string{"e2e4", "g1f3", "a7a8q", "h2h1n", "b7b8r", "c7c8b"} {
		m, err := ParseMove(uci)
		is.NoErr(err)
		is.Equal(m.UCI(), uci)
	}

	for _, bad := range []string{"", "e2", "i2i4", "e2e9", "e7e8x", "e2e4qq"} {
		_, err := ParseMove(bad)
		is.True(err != nil)
	}
}

func TestAsNNIndexBounds(t *testing.T) {
	is := is.New(t)

	seen := map[int]bool{}
	for _, uci := range []string{"e2e4", "e7e8q", "e7e8n", "e7d8r", "a2a3"} {
		m, err := ParseMove(uci)
		is.NoErr(err)
		for _, tr := range []int{TransformNone, TransformMirrorFile, TransformMirrorRank, TransformMirrorBoth} {
			idx := m.AsNNIndex(tr)
			is.True(idx >= 0 && idx < NNPolicySize())
			seen[idx] = true
		}
	}
	is.True(len(seen) > 1)
}
