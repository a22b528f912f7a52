package search

import (
	"context"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"

	"github.com/condorchess/condor/config"
)

func TestWDLRescaleDisabledModes(t *testing.T) {
	is := is.New(t)

	// Contempt off: values pass through untouched.
	s, _ := newTestSearch(t, nil, 4, 40)
	q, d := s.applyWDLRescale(0.3, 0.4, false)
	is.Equal(q, 0.3)
	is.Equal(d, 0.4)

	// Contempt on but identity rescale: also untouched.
	cfg := config.New()
	cfg.Set(config.ConfigContemptMode, "play")
	s, _ = newTestSearch(t, cfg, 4, 40)
	q, d = s.applyWDLRescale(0.3, 0.4, false)
	is.Equal(q, 0.3)
	is.Equal(d, 0.4)
}

func TestWDLRescaleIdentityRatio(t *testing.T) {
	// A ratio a hair above 1 with diff 0 skips the identity early return:
	// refitting with effectively unchanged parameters reproduces the inputs.
	cfg := config.New()
	cfg.Set(config.ConfigContemptMode, "play")
	cfg.Set(config.ConfigWDLRescaleRatio, 1.0000001)
	cfg.Set(config.ConfigWDLMaxS, 10.0)
	s, _ := newTestSearch(t, cfg, 4, 40)

	for _, tc := range [][2]float64{{0, 0.5}, {0.3, 0.4}, {-0.6, 0.2}} {
		q, d := s.applyWDLRescale(tc[0], tc[1], false)
		assert.InDelta(t, tc[0], q, 1e-4)
		assert.InDelta(t, tc[1], d, 1e-4)
	}
}

func TestWDLRescaleShiftsTowardContempt(t *testing.T) {
	is := is.New(t)

	cfg := config.New()
	cfg.Set(config.ConfigContemptMode, "white_side_analysis")
	cfg.Set(config.ConfigWDLRescaleDiff, 0.5)
	s, _ := newTestSearch(t, cfg, 4, 40)

	q0, d0 := 0.0, 0.5
	qw, dw := s.applyWDLRescale(q0, d0, false)
	qb, db := s.applyWDLRescale(q0, d0, true)
	// The favored side's eval moves up, the other side's down.
	is.True(qw > q0)
	is.True(qb < q0)
	is.True(dw >= 0 && dw <= 1)
	is.True(db >= 0 && db <= 1)
}

func TestCpuctNumeratorPositiveAndFpuBelowParentQ(t *testing.T) {
	is := is.New(t)

	s, tree := newTestSearch(t, nil, 6, 40)
	// Search a bit so the head has a populated low node.
	err := s.RunBlocking(context.Background(), 1, 64)
	is.NoErr(err)

	head := tree.CurrentHead()
	n1 := s.cpuctNumerator(head, false)
	is.True(n1 > 0)
	fpu := s.fpu(head, false)
	// Reduction-mode fpu sits at or below the parent's own eval.
	is.True(fpu <= parentQ(head, 0)+1e-9)
}
