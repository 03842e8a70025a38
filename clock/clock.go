// Package clock provides the time sources used by the detection and output
// pipeline. Components never read the wall clock directly; they are handed a
// Clock at construction so several pipelines (or tests) can run side by side.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns a monotonic timestamp in microseconds.
type Clock interface {
	NowMicros() uint64
}

// Provider is a Clock backed by a real-time clock chip that can report its
// own health.
type Provider interface {
	Clock
	// RTCHealthy reports false after repeated bus errors.
	RTCHealthy() bool
	// RTCTemperature returns the last temperature read from the RTC in °C.
	RTCTemperature() float64
	// Sync sets the RTC from the host time. It is best-effort and must not be
	// called from a hot path.
	Sync() error
}

// System is a monotonic clock starting at zero when created.
type System struct {
	start time.Time
}

// NewSystem returns a System clock.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// NowMicros returns the microseconds elapsed since the clock was created.
func (s *System) NowMicros() uint64 {
	return uint64(time.Since(s.start) / time.Microsecond)
}

// Manual is a clock that only moves when told to.
type Manual struct {
	now atomic.Uint64
}

// NewManual returns a Manual clock set to start microseconds.
func NewManual(start uint64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

// NowMicros returns the current manual time.
func (m *Manual) NowMicros() uint64 {
	return m.now.Load()
}

// Set sets the current time. Going backwards is allowed; it is up to the
// test to not do that.
func (m *Manual) Set(us uint64) {
	m.now.Store(us)
}

// Advance moves the clock forward by us microseconds and returns the new time.
func (m *Manual) Advance(us uint64) uint64 {
	return m.now.Add(us)
}
