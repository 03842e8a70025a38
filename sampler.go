package clapsync

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cgxeiji/clapsync/beat"
	"github.com/cgxeiji/clapsync/clock"
)

// Source returns one amplitude sample per call.
type Source interface {
	Sample() (uint16, error)
}

// Sampler reads a Source at a fixed rate and feeds the detector.
type Sampler struct {
	src    Source
	det    *beat.Detector
	clock  clock.Clock
	period time.Duration
	log    logrus.FieldLogger

	samples atomic.Uint64
	errs    atomic.Uint64
}

// NewSampler returns a sampler reading rate samples per second.
func NewSampler(src Source, det *beat.Detector, c clock.Clock, rate int, log logrus.FieldLogger) *Sampler {
	return &Sampler{
		src:    src,
		det:    det,
		clock:  c,
		period: time.Second / time.Duration(rate),
		log:    log.WithField("component", "sampler"),
	}
}

// Run samples until ctx is done. Read errors are counted and logged at most
// once a second; they never stop the loop.
func (s *Sampler) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var lastLog time.Time
	next := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		v, err := s.src.Sample()
		if err != nil {
			n := s.errs.Add(1)
			if time.Since(lastLog) > time.Second {
				s.log.WithError(err).WithField("errors", n).Warn("could not read sample")
				lastLog = time.Now()
			}
		} else {
			s.det.ProcessSample(v, s.clock.NowMicros())
			s.samples.Add(1)
		}

		next = next.Add(s.period)
		wait := time.Until(next)
		switch {
		case wait > time.Millisecond:
			time.Sleep(wait)
		case wait > 0:
			for time.Now().Before(next) {
				runtime.Gosched()
			}
		case wait < -100*s.period:
			// far behind, probably the bus stalled: start over
			next = time.Now()
		}
	}
}

// Samples returns the number of samples fed to the detector.
func (s *Sampler) Samples() uint64 {
	return s.samples.Load()
}

// Errors returns the number of failed reads.
func (s *Sampler) Errors() uint64 {
	return s.errs.Load()
}
