package cellsim

import (
	"math/rand"
)

// lossSeed is the fixed PRNG seed required for reproducibility. Every
// DelayQueue direction uses this same seed on its own generator, so
// uplink and downlink both replay the identical seed-0 sequence
// independently of each other.
const lossSeed = 0

// lossModel is a per-direction Bernoulli drop process.
type lossModel struct {
	rate float64
	rng  *rand.Rand
}

func newLossModel(rate float64) *lossModel {
	return &lossModel{
		rate: rate,
		rng:  rand.New(rand.NewSource(lossSeed)),
	}
}

// draw reports whether the next packet should be dropped.
func (l *lossModel) draw() bool {
	return l.rng.Float64() < l.rate
}
