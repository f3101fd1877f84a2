package determinism

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
)

// RNG supplies random draws from a seeded source. Real executions use a
// fresh seed (recorded into the manifest); replay reuses the recorded
// seed so every draw repeats.
type RNG struct {
	seed int64
	r    *rand.Rand
}

// NewRNG creates a seeded random source.
func NewRNG(seed int64) *RNG {
	return &RNG{seed: seed, r: rand.New(rand.NewSource(seed))}
}

// NewRandomRNG creates an RNG with a seed drawn from crypto/rand, for
// live executions.
func NewRandomRNG() *RNG {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		// crypto/rand failing is unrecoverable for seeding purposes;
		// fall back to a fixed seed rather than panic.
		return NewRNG(1)
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) &^ (1 << 63))
	return NewRNG(seed)
}

// Seed returns the seed this source was created with.
func (g *RNG) Seed() int64 { return g.seed }

// Int63 returns a non-negative pseudo-random 63-bit integer.
func (g *RNG) Int63() int64 { return g.r.Int63() }

// Intn returns a pseudo-random int in [0, n).
func (g *RNG) Intn(n int) int { return g.r.Intn(n) }

// Float64 returns a pseudo-random float in [0.0, 1.0).
func (g *RNG) Float64() float64 { return g.r.Float64() }
