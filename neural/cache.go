package neural

import (
	"sync"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog/log"

	"github.com/condorchess/condor/mcts"
)

// CachedNNRequest is one cached evaluation. Immutable once inserted.
type CachedNNRequest struct {
	Eval *mcts.NNEval
}

// Rough footprint of a cached eval, for memory-fraction sizing: the eval
// struct, a typical edge array and map overhead.
const approxEntryBytes = 512

const cacheShards = 16

type cacheEntry struct {
	req  *CachedNNRequest
	pins int
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[uint64]*cacheEntry
	order   []uint64
}

// NNCache is a size-bounded map from position fingerprint to evaluation.
// Lookups pin entries via NNCacheLock so eviction cannot pull a result out
// from under a reader. Inserting an existing key is benign: the original
// entry is kept, which is observationally the same as one insert.
type NNCache struct {
	shards   [cacheShards]cacheShard
	capacity int
}

// NewNNCache builds a cache bounded to the given number of entries.
func NewNNCache(capacity int) *NNCache {
	if capacity < cacheShards {
		capacity = cacheShards
	}
	c := &NNCache{capacity: capacity}
	for i := range c.shards {
		c.shards[i].entries = make(map[uint64]*cacheEntry)
	}
	return c
}

// NewNNCacheFromMemory sizes the cache to a fraction of system memory.
func NewNNCacheFromMemory(fraction float64) *NNCache {
	total := memory.TotalMemory()
	entries := int(fraction * float64(total) / approxEntryBytes)
	log.Info().
		Uint64("total-system-memory-bytes", total).
		Float64("fraction", fraction).
		Int("num-entries", entries).
		Msg("nn-cache-size")
	return NewNNCache(entries)
}

func (c *NNCache) shardFor(hash uint64) *cacheShard {
	return &c.shards[hash%cacheShards]
}

// Insert stores an evaluation unless the key is already present, then
// evicts unpinned entries beyond the shard's share of the capacity.
func (c *NNCache) Insert(hash uint64, req *CachedNNRequest) {
	s := c.shardFor(hash)
	perShard := c.capacity / cacheShards

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[hash]; ok {
		return
	}
	s.entries[hash] = &cacheEntry{req: req}
	s.order = append(s.order, hash)

	for len(s.entries) > perShard {
		evicted := false
		for i, key := range s.order {
			e := s.entries[key]
			if e == nil {
				s.order = append(s.order[:i], s.order[i+1:]...)
				evicted = true
				break
			}
			if e.pins == 0 {
				delete(s.entries, key)
				s.order = append(s.order[:i], s.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			// Everything is pinned; let the shard run hot rather than
			// stall.
			break
		}
	}
}

// Lock pins the entry for the hash so it survives until Unlock. The zero
// lock (ok == false) means a miss; misses fall through to NN evaluation.
func (c *NNCache) Lock(hash uint64) (NNCacheLock, bool) {
	s := c.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[hash]
	if !ok {
		return NNCacheLock{}, false
	}
	e.pins++
	return NNCacheLock{cache: c, hash: hash, entry: e}, true
}

// Size counts live entries across shards.
func (c *NNCache) Size() int {
	total := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

func (c *NNCache) Capacity() int { return c.capacity }

// NNCacheLock pins one cache entry for the duration of its consumption.
type NNCacheLock struct {
	cache *NNCache
	entry *cacheEntry
	hash  uint64
}

func (l *NNCacheLock) Ok() bool { return l.entry != nil }

func (l *NNCacheLock) Eval() *mcts.NNEval {
	return l.entry.req.Eval
}

// Unlock releases the pin. Safe to call on the zero lock.
func (l *NNCacheLock) Unlock() {
	if l.entry == nil {
		return
	}
	s := l.cache.shardFor(l.hash)
	s.mu.Lock()
	l.entry.pins--
	if l.entry.pins < 0 {
		s.mu.Unlock()
		panic("neural: cache lock released twice")
	}
	s.mu.Unlock()
	l.entry = nil
}
