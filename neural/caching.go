package neural

import (
	"math"

	"github.com/condorchess/condor/chess"
	"github.com/condorchess/condor/mcts"
)

// CachingComputation wraps a NetworkComputation and the evaluation cache.
// Cache hits contribute batch items that never touch the network; novel
// positions are encoded and forwarded. After the underlying computation
// runs, policies get softmax-with-temperature applied, edges are sorted,
// and the results are inserted into the cache.
type CachingComputation struct {
	parent  NetworkComputation
	encoder Encoder
	fill    mcts.HistoryFill
	cache   *NNCache
	batch   []workItem
	pending map[uint64]int
}

type workItem struct {
	hash        uint64
	lock        NNCacheLock
	idxInParent int
	aliasOf     int
	eval        *mcts.NNEval
	transform   int
}

func NewCachingComputation(parent NetworkComputation, encoder Encoder,
	fill mcts.HistoryFill, cache *NNCache) *CachingComputation {
	return &CachingComputation{
		parent:  parent,
		encoder: encoder,
		fill:    fill,
		cache:   cache,
		pending: make(map[uint64]int),
	}
}

// Reserve avoids repeated growth while items are added.
func (cc *CachingComputation) Reserve(batchSize int) {
	if cap(cc.batch) < batchSize {
		batch := make([]workItem, len(cc.batch), batchSize)
		copy(batch, cc.batch)
		cc.batch = batch
	}
}

// CacheMisses counts the inputs that will reach the wrapped computation.
func (cc *CachingComputation) CacheMisses() int { return cc.parent.BatchSize() }

// BatchSize counts every successfully added input, hits included.
func (cc *CachingComputation) BatchSize() int { return len(cc.batch) }

// AddInputByHash appends a cache-hit item if the hash is cached; reports
// false otherwise and leaves the batch alone.
func (cc *CachingComputation) AddInputByHash(hash uint64) bool {
	lock, ok := cc.cache.Lock(hash)
	if !ok {
		return false
	}
	cc.addInputByHashLock(hash, lock)
	return true
}

func (cc *CachingComputation) addInputByHashLock(hash uint64, lock NNCacheLock) {
	cc.batch = append(cc.batch, workItem{
		hash:        hash,
		lock:        lock,
		idxInParent: -1,
		aliasOf:     -1,
	})
}

// AddInput adds a position to the batch, as a cache hit when possible and
// otherwise as an encoded input for the network, with legal moves
// enumerated up front so the result can be bound to edges. A repeat of a
// position already pending in this batch shares the pending item's network
// slot instead of adding a second input.
func (cc *CachingComputation) AddInput(hash uint64, history *chess.PositionHistory) {
	if cc.AddInputByHash(hash) {
		return
	}
	if prior, ok := cc.pending[hash]; ok {
		cc.batch = append(cc.batch, workItem{
			hash:        hash,
			idxInParent: -1,
			aliasOf:     prior,
		})
		return
	}
	input, transform := cc.encoder.Encode(history, cc.fill)
	moves := history.Last().Board().GenerateLegalMoves()
	cc.pending[hash] = len(cc.batch)
	cc.batch = append(cc.batch, workItem{
		hash:        hash,
		idxInParent: cc.parent.BatchSize(),
		aliasOf:     -1,
		eval:        &mcts.NNEval{Edges: mcts.EdgesFromMoves(moves)},
		transform:   transform,
	})
	cc.parent.AddInput(input)
}

// PopCacheHit removes the last item, which must be a cache hit.
func (cc *CachingComputation) PopCacheHit() {
	last := &cc.batch[len(cc.batch)-1]
	if last.idxInParent != -1 {
		panic("neural: PopCacheHit on a miss")
	}
	last.lock.Unlock()
	cc.batch = cc.batch[:len(cc.batch)-1]
}

// PopLastInputHit undoes the last AddInput. Only allowed for inputs that
// were cache hits; a miss is already in the wrapped computation's batch.
func (cc *CachingComputation) PopLastInputHit() {
	cc.PopCacheHit()
}

// ComputeBlocking runs the wrapped computation once and distributes the
// results: per-item heads, softmax-with-temperature over the raw policy
// logits (in log space, so large logits cannot overflow), the one-time edge
// sort, and the cache insert.
func (cc *CachingComputation) ComputeBlocking(softmaxTemp float64) error {
	if cc.parent.BatchSize() > 0 {
		if err := cc.parent.ComputeBlocking(); err != nil {
			return err
		}
	}

	// Never more than 256 legal moves in any legal position.
	var intermediate [chess.MaxLegalMoves]float64
	for i := range cc.batch {
		item := &cc.batch[i]
		if item.idxInParent == -1 {
			continue
		}
		item.eval.Q = cc.parent.Q(item.idxInParent)
		item.eval.D = cc.parent.D(item.idxInParent)
		item.eval.M = cc.parent.M(item.idxInParent)
		item.eval.E = cc.parent.E(item.idxInParent)

		edges := item.eval.Edges
		maxP := math.Inf(-1)
		for ct := range edges {
			move := edges[ct].Move()
			p := float64(cc.parent.P(item.idxInParent, move.AsNNIndex(item.transform)))
			intermediate[ct] = p
			if p > maxP {
				maxP = p
			}
		}
		total := 0.0
		for ct := range edges {
			// (exp(p-maxP))^(1/T) = exp((p-maxP)/T).
			x := math.Exp((intermediate[ct] - maxP) / softmaxTemp)
			intermediate[ct] = x
			total += x
		}
		scale := 1.0
		if total > 0 {
			scale = 1.0 / total
		}
		for ct := range edges {
			edges[ct].SetP(float32(intermediate[ct] * scale))
		}

		mcts.SortEdges(edges)

		cc.cache.Insert(item.hash, &CachedNNRequest{Eval: item.eval})
	}
	return nil
}

// NNEval returns the evaluation for a batch item, whether it came from the
// cache, the network, or an earlier item for the same position.
func (cc *CachingComputation) NNEval(idx int) *mcts.NNEval {
	item := &cc.batch[idx]
	if item.aliasOf >= 0 {
		item = &cc.batch[item.aliasOf]
	}
	if item.idxInParent >= 0 {
		return item.eval
	}
	return item.lock.Eval()
}

// Hash returns the fingerprint a batch item was filed under.
func (cc *CachingComputation) Hash(idx int) uint64 { return cc.batch[idx].hash }

// Release unpins every cache hit. Call when the batch has been consumed.
func (cc *CachingComputation) Release() {
	for i := range cc.batch {
		cc.batch[i].lock.Unlock()
	}
	cc.batch = cc.batch[:0]
	clear(cc.pending)
}
