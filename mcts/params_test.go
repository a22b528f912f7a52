package mcts

import (
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"

	"github.com/condorchess/condor/config"
)

func TestSearchParamsDefaults(t *testing.T) {
	is := is.New(t)

	p, err := NewSearchParams(config.New())
	is.NoErr(err)

	is.Equal(p.MiniBatchSize(), 256)
	assert.InDelta(t, 1.745, p.Cpuct(false), 1e-9)
	assert.InDelta(t, 1.745, p.Cpuct(true), 1e-9)
	is.Equal(p.FpuStrategy(false), FPUReduction)
	// "same" at root inherits the non-root strategy and value.
	is.Equal(p.FpuStrategy(true), FPUReduction)
	assert.InDelta(t, p.FpuValue(false), p.FpuValue(true), 1e-9)
	is.Equal(p.ContemptMode(), ContemptNone)
	is.Equal(p.HistoryFill(), HistoryFillFenOnly)
	is.Equal(p.CacheHistoryLength(), 0)
	is.True(p.OutOfOrderEval())
	is.True(p.StickyEndgames())
	is.Equal(p.MultiPv(), 1)
}

func TestSearchParamsRootCpuctOverride(t *testing.T) {
	is := is.New(t)

	cfg := config.New()
	cfg.Set(config.ConfigRootHasOwnCpuctParams, true)
	cfg.Set(config.ConfigCpuctAtRoot, 2.5)

	p, err := NewSearchParams(cfg)
	is.NoErr(err)
	assert.InDelta(t, 2.5, p.Cpuct(true), 1e-9)
	assert.InDelta(t, 1.745, p.Cpuct(false), 1e-9)
}

func TestSearchParamsInvalidEnums(t *testing.T) {
	is := is.New(t)

	cfg := config.New()
	cfg.Set(config.ConfigContemptMode, "bogus")
	_, err := NewSearchParams(cfg)
	is.True(err != nil)

	cfg = config.New()
	cfg.Set(config.ConfigFpuStrategy, "bogus")
	_, err = NewSearchParams(cfg)
	is.True(err != nil)

	cfg = config.New()
	cfg.Set(config.ConfigHistoryFill, "bogus")
	_, err = NewSearchParams(cfg)
	is.True(err != nil)

	cfg = config.New()
	cfg.Set(config.ConfigScoreType, "bogus")
	_, err = NewSearchParams(cfg)
	is.True(err != nil)
}

func TestSearchParamsFpuAbsoluteAtRoot(t *testing.T) {
	is := is.New(t)

	cfg := config.New()
	cfg.Set(config.ConfigFpuStrategyAtRoot, "absolute")
	cfg.Set(config.ConfigFpuValueAtRoot, 0.5)

	p, err := NewSearchParams(cfg)
	is.NoErr(err)
	is.Equal(p.FpuStrategy(true), FPUAbsolute)
	assert.InDelta(t, 0.5, p.FpuValue(true), 1e-9)
	is.Equal(p.FpuStrategy(false), FPUReduction)
}
