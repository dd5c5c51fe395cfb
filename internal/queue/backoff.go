package queue

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential doubling from Base, capped at
// Cap, multiplied by uniform jitter in [0.5, 1.5).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
	// rnd is injectable for deterministic tests; nil uses the global source.
	rnd *rand.Rand
}

// NewBackoff returns a Backoff with the substrate defaults (5s base, 10m cap)
// where zero values are passed.
func NewBackoff(base, cap time.Duration) Backoff {
	if base <= 0 {
		base = 5 * time.Second
	}
	if cap <= 0 {
		cap = 10 * time.Minute
	}
	return Backoff{Base: base, Cap: cap}
}

// Delay returns the backoff before retry number attempt (1-based: the delay
// scheduled after the attempt-th failure).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}
	return time.Duration(float64(d) * b.jitter())
}

func (b Backoff) jitter() float64 {
	if b.rnd != nil {
		return 0.5 + b.rnd.Float64()
	}
	return 0.5 + rand.Float64()
}
