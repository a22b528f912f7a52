package neural

import (
	"math"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"

	"github.com/condorchess/condor/chess"
	"github.com/condorchess/condor/mcts"
)

// fakeComputation serves fixed heads and policy logits keyed by nn index.
type fakeComputation struct {
	inputs int
	q, d   float32
	m, e   float32
	logits map[int]float32
}

func (f *fakeComputation) AddInput(EncodedInput)        { f.inputs++ }
func (f *fakeComputation) ComputeBlocking() error       { return nil }
func (f *fakeComputation) BatchSize() int               { return f.inputs }
func (f *fakeComputation) Q(int) float32                { return f.q }
func (f *fakeComputation) D(int) float32                { return f.d }
func (f *fakeComputation) M(int) float32                { return f.m }
func (f *fakeComputation) E(int) float32                { return f.e }
func (f *fakeComputation) P(_ int, nnIndex int) float32 { return f.logits[nnIndex] }

func testHistory(t *testing.T, ucis ...string) *chess.PositionHistory {
	t.Helper()
	moves := make([]chess.Move, len(ucis))
	for i, u := range ucis {
		m, err := chess.ParseMove(u)
		if err != nil {
			t.Fatal(err)
		}
		moves[i] = m
	}
	h := &chess.PositionHistory{}
	h.Reset(chess.NewStubBoard(moves, 100), 0)
	return h
}

func TestCacheHitMissMix(t *testing.T) {
	is := is.New(t)

	cache := NewNNCache(1024)
	// One position is already cached.
	cached := &mcts.NNEval{Q: 0.42}
	cache.Insert(0xaaa, &CachedNNRequest{Eval: cached})

	fake := &fakeComputation{q: -0.1, logits: map[int]float32{}}
	cc := NewCachingComputation(fake, &PlaneEncoder{}, mcts.HistoryFillNo, cache)

	hist := testHistory(t, "a2a3", "b2b3")

	// Two hits on the cached hash, one novel position, one repeat of the
	// novel position within the same batch.
	is.True(cc.AddInputByHash(0xaaa))
	is.True(cc.AddInputByHash(0xaaa))
	cc.AddInput(0xbbb, hist)
	cc.AddInput(0xbbb, hist)

	is.Equal(cc.BatchSize(), 4)
	// Exactly one input reached the wrapped computation.
	is.Equal(cc.CacheMisses(), 1)
	is.Equal(fake.inputs, 1)

	before := cache.Size()
	is.NoErr(cc.ComputeBlocking(1.0))

	// Identical positions produced identical evals.
	is.True(cc.NNEval(0) == cached)
	is.True(cc.NNEval(1) == cached)
	is.True(cc.NNEval(2) == cc.NNEval(3))
	is.Equal(cc.NNEval(2).Q, float32(-0.1))

	// The cache grew by exactly the one novel position.
	is.Equal(cache.Size(), before+1)

	cc.Release()
}

func TestSoftmaxWithTemperature(t *testing.T) {
	is := is.New(t)

	// Three moves with known policy-head indices and logits [0, 1, 0].
	a2a3, _ := chess.ParseMove("a2a3")
	b2b3, _ := chess.ParseMove("b2b3")
	c2c3, _ := chess.ParseMove("c2c3")
	fake := &fakeComputation{
		q: 0.2,
		logits: map[int]float32{
			a2a3.AsNNIndex(chess.TransformNone): 0,
			b2b3.AsNNIndex(chess.TransformNone): 1,
			c2c3.AsNNIndex(chess.TransformNone): 0,
		},
	}
	cache := NewNNCache(64)
	cc := NewCachingComputation(fake, &PlaneEncoder{}, mcts.HistoryFillNo, cache)

	h := &chess.PositionHistory{}
	h.Reset(chess.NewStubBoard([]chess.Move{a2a3, b2b3, c2c3}, 100), 0)
	cc.AddInput(0xcafe, h)

	is.NoErr(cc.ComputeBlocking(1.0))

	eval := cc.NNEval(0)
	is.Equal(eval.NumEdges(), 3)
	// Edges were sorted by policy, so the middle logit's move comes first.
	is.Equal(eval.Edges[0].Move(), b2b3)
	assert.InDelta(t, 0.5761, float64(eval.Edges[0].P()), 1e-4)
	assert.InDelta(t, 0.2119, float64(eval.Edges[1].P()), 1e-4)
	assert.InDelta(t, 0.2119, float64(eval.Edges[2].P()), 1e-4)

	total := 0.0
	for i := range eval.Edges {
		total += float64(eval.Edges[i].P())
	}
	assert.InDelta(t, 1.0, total, 1e-3)
	cc.Release()
}

func TestSoftmaxEqualLogits(t *testing.T) {
	is := is.New(t)

	a2a3, _ := chess.ParseMove("a2a3")
	b2b3, _ := chess.ParseMove("b2b3")
	fake := &fakeComputation{logits: map[int]float32{}}
	cache := NewNNCache(64)
	cc := NewCachingComputation(fake, &PlaneEncoder{}, mcts.HistoryFillNo, cache)

	h := &chess.PositionHistory{}
	h.Reset(chess.NewStubBoard([]chess.Move{a2a3, b2b3}, 100), 0)
	cc.AddInput(0xbeef, h)

	is.NoErr(cc.ComputeBlocking(2.3))

	eval := cc.NNEval(0)
	// All pre-softmax logits equal means all posteriors exactly equal.
	is.Equal(eval.Edges[0].P(), eval.Edges[1].P())
	if math.Abs(float64(eval.Edges[0].P())-0.5) > 1e-3 {
		t.Fatalf("expected uniform policy, got %v", eval.Edges[0].P())
	}
	cc.Release()
}

func TestPopCacheHit(t *testing.T) {
	is := is.New(t)

	cache := NewNNCache(64)
	cache.Insert(0x1, &CachedNNRequest{Eval: testEval(0.3)})
	fake := &fakeComputation{logits: map[int]float32{}}
	cc := NewCachingComputation(fake, &PlaneEncoder{}, mcts.HistoryFillNo, cache)

	is.True(cc.AddInputByHash(0x1))
	is.Equal(cc.BatchSize(), 1)
	cc.PopCacheHit()
	is.Equal(cc.BatchSize(), 0)
	cc.Release()
}
