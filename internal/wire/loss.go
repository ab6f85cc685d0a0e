package wire

import (
	"math/rand"
	"sync"
)

// LossInjector implements the deterministic-given-seed Bernoulli drop used
// to simulate an unreliable link in tests and in the loss_prob CLI knob.
// The source is seeded per-instance rather than shared globally, so
// concurrent tests don't interfere with each other's loss pattern.
//
// A Transport's Send and Poll paths both call Drop concurrently (background
// reader plus foreground sender), so access to the RNG is serialized with
// a mutex; math/rand.Rand is not safe for concurrent use.
type LossInjector struct {
	prob float64
	mu   sync.Mutex
	rng  *rand.Rand
}

// NewLossInjector builds an injector with probability prob in [0, 1] using
// the given seed. A seed of 0 is valid and still deterministic.
func NewLossInjector(prob float64, seed int64) *LossInjector {
	return &LossInjector{
		prob: prob,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Drop reports whether the current outbound write should be suppressed.
// prob == 0 always returns false without touching the RNG.
func (l *LossInjector) Drop() bool {
	if l == nil || l.prob <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64() < l.prob
}
