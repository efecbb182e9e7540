package clock

// Rand is a xorshift64* generator with fully exportable state. math/rand
// cannot dump or reload its internal state, which makes it useless for
// snapshot/restore: a replayed frame must draw exactly the numbers the live
// frame drew. State() and Restore() round-trip the generator bit-for-bit.
type Rand struct {
	state uint64
}

// NewRand seeds a generator. A zero seed is remapped, xorshift state must be
// non-zero.
func NewRand(seed uint64) *Rand {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return &Rand{state: seed}
}

// State returns the current generator state for snapshotting.
func (r *Rand) State() uint64 { return r.state }

// Restore overwrites the generator state from a snapshot.
func (r *Rand) Restore(state uint64) {
	if state == 0 {
		state = 0x9E3779B97F4A7C15
	}
	r.state = state
}

// Uint64 returns the next value in the sequence.
func (r *Rand) Uint64() uint64 {
	x := r.state
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	r.state = x
	return x * 0x2545F4914F6CDD1D
}

// Float64 returns a value in [0, 1).
func (r *Rand) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// IntN returns a value in [0, n). n must be > 0.
func (r *Rand) IntN(n int) int {
	return int(r.Uint64() % uint64(n))
}
