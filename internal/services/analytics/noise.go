package analytics

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
)

// NoiseSource yields a perturbation in [-1, 1] for a scoring key.
type NoiseSource interface {
	Sample(key string) float64
}

// NoNoise disables perturbation.
type NoNoise struct{}

func (NoNoise) Sample(string) float64 { return 0 }

// SeededNoise derives a deterministic sample per key from a fixed seed, so the
// same subject scored for the same as-of date always gets the same jitter.
type SeededNoise struct {
	seed uint64
}

func NewSeededNoise(seed uint64) *SeededNoise { return &SeededNoise{seed: seed} }

func (n *SeededNoise) Sample(key string) float64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n.seed)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(key))
	r := rand.New(rand.NewPCG(n.seed, h.Sum64()))
	return r.Float64()*2 - 1
}
