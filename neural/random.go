package neural

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash"
)

// RandomNetwork produces deterministic pseudo-evaluations derived from the
// input planes. Useful for tests, benchmarks and search plumbing work when
// no weights are at hand.
type RandomNetwork struct {
	Seed uint64
}

func NewRandomNetwork(seed uint64) *RandomNetwork {
	return &RandomNetwork{Seed: seed}
}

func (n *RandomNetwork) NewComputation() NetworkComputation {
	return &randomComputation{seed: n.Seed}
}

type randomComputation struct {
	seed uint64
	keys []uint64
}

func (c *randomComputation) AddInput(input EncodedInput) {
	d := xxhash.New()
	var buf [4]byte
	for _, v := range input {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		d.Write(buf[:])
	}
	c.keys = append(c.keys, d.Sum64()^c.seed)
}

func (c *randomComputation) ComputeBlocking() error { return nil }

func (c *randomComputation) BatchSize() int { return len(c.keys) }

func mix(x uint64) uint64 {
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// unit maps a key into [0, 1).
func unit(x uint64) float32 {
	return float32(mix(x)>>40) / (1 << 24)
}

func (c *randomComputation) Q(idx int) float32 {
	return 2*unit(c.keys[idx]^1) - 1
}

func (c *randomComputation) D(idx int) float32 {
	// Keep w, d, l a valid distribution: d below 1-|q|.
	q := c.Q(idx)
	room := 1 - float32(math.Abs(float64(q)))
	return room * unit(c.keys[idx]^2)
}

func (c *randomComputation) M(idx int) float32 {
	return 20 * unit(c.keys[idx]^3)
}

func (c *randomComputation) E(idx int) float32 {
	return unit(c.keys[idx] ^ 4)
}

func (c *randomComputation) P(idx int, nnIndex int) float32 {
	return unit(c.keys[idx] ^ uint64(nnIndex)*0x9e3779b97f4a7c15)
}
