package clapsync

import (
	"math/rand/v2"
)

// Clicks is a Source producing a click track at a fixed tempo, for running
// without a microphone.
type Clicks struct {
	every uint64
	n     uint64
	rng   *rand.Rand
}

// Quiet level and click height of the generated track.
const (
	clickBase   = 2000
	clickNoise  = 8
	clickHeight = 1200
)

// NewClicks returns a click track at bpm for a sampler running at rate
// samples per second.
func NewClicks(bpm float64, rate int) *Clicks {
	return &Clicks{
		every: uint64(float64(rate) * 60 / bpm),
		rng:   rand.New(rand.NewPCG(1, 2)),
	}
}

// Sample returns the next sample. Every click is a single sample spike.
func (c *Clicks) Sample() (uint16, error) {
	c.n++
	v := clickBase + c.rng.IntN(2*clickNoise+1) - clickNoise
	if c.n%c.every == 0 {
		v += clickHeight
	}
	return uint16(v), nil
}
