// Package tempo estimates a tempo in beats per minute from tap timestamps.
//
// Taps go into a 64 entry ring. The BPM is derived from the mean interval and
// the stability from the coefficient of variation of the intervals. Runs of
// intervals at twice or half the running tempo are treated as a tempo
// misread and snapped after five in a row. A shorter shadow ring follows the
// same taps and takes over the lock when it is clearly more confident.
package tempo

import (
	"math"
	"sync"
	"time"

	"github.com/cgxeiji/clapsync/clock"
)

const (
	// BufferSize is the capacity of the primary tap buffer.
	BufferSize = 64
	// ShadowSize is the capacity of the shadow tap buffer.
	ShadowSize = 16
)

// Update is emitted when the tempo estimate changes.
type Update struct {
	BPM       float64 `json:"bpm"`
	Stable    bool    `json:"stable"`
	Timestamp uint64  `json:"timestamp_us"`
	TapCount  int     `json:"tap_count"`
}

// Config holds the tempo tunables.
type Config struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// StabilityCV is the coefficient of variation, in percent, below which
	// the tempo is stable.
	StabilityCV   float64
	MinStableTaps int

	Correction    bool
	CorrectionRun int
	HalfRatio     float64
	DoubleRatio   float64

	// ShadowConfidence is the number of consecutive stable shadow taps
	// needed before the shadow may replace the lock.
	ShadowConfidence int
	ShadowMinDiff    float64

	LockTimeout time.Duration
	// MinBPM and MaxBPM bound the tempo that can become locked.
	MinBPM float64
	MaxBPM float64
}

// DefaultConfig returns the tempo defaults.
func DefaultConfig() Config {
	return Config{
		MinInterval:      100 * time.Millisecond,  // 600 bpm
		MaxInterval:      2000 * time.Millisecond, // 30 bpm
		StabilityCV:      5,
		MinStableTaps:    4,
		Correction:       true,
		CorrectionRun:    5,
		HalfRatio:        1.8,
		DoubleRatio:      0.6,
		ShadowConfidence: 5,
		ShadowMinDiff:    5,
		LockTimeout:      3 * time.Second,
		MinBPM:           40,
		MaxBPM:           300,
	}
}

// Engine is the tempo engine.
type Engine struct {
	cfg   Config
	clock clock.Clock

	minUs, maxUs, timeoutUs uint64

	mu        sync.Mutex
	primary   *tracker
	shadow    *tracker
	shadowHit int
	locked    float64
	bpm       float64
	lastTap   uint64
	hasLast   bool
	last      Update

	onUpdate func(Update)
}

// New returns an engine. The clock is used by CheckTimeout callers that do
// not carry their own timestamp.
func New(cfg Config, c clock.Clock) *Engine {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Engine{
		cfg:       cfg,
		clock:     c,
		minUs:     uint64(cfg.MinInterval / time.Microsecond),
		maxUs:     uint64(cfg.MaxInterval / time.Microsecond),
		timeoutUs: uint64(cfg.LockTimeout / time.Microsecond),
		primary:   newTracker(BufferSize),
		shadow:    newTracker(ShadowSize),
	}
}

// OnUpdate sets the BPM subscriber, replacing any previous one.
func (e *Engine) OnUpdate(f func(Update)) {
	e.mu.Lock()
	e.onUpdate = f
	e.mu.Unlock()
}

// AddTap ingests a tap at timestamp (µs). It returns false if the tap was
// rejected because its interval to the last accepted tap is out of range.
func (e *Engine) AddTap(timestamp uint64) bool {
	e.mu.Lock()

	var interval float64
	if e.hasLast {
		if timestamp <= e.lastTap {
			e.mu.Unlock()
			return false
		}
		d := timestamp - e.lastTap
		if d < e.minUs || d > e.maxUs {
			e.mu.Unlock()
			return false
		}
		interval = float64(d)
	}
	e.lastTap = timestamp
	e.hasLast = true

	e.primary.add(timestamp, interval, &e.cfg)
	e.shadow.add(timestamp, interval, &e.cfg)
	if e.primary.count >= 2 {
		e.bpm = e.primary.bpm
	}

	if e.primary.stable && e.primary.bpm >= e.cfg.MinBPM && e.primary.bpm <= e.cfg.MaxBPM {
		e.locked = e.primary.bpm
	}
	e.arbitrate()

	u := Update{
		BPM:       e.bpm,
		Stable:    e.primary.stable,
		Timestamp: timestamp,
		TapCount:  e.primary.count,
	}
	f, ok := e.changed(u)
	e.mu.Unlock()

	if ok && f != nil && u.TapCount >= 2 {
		f(u)
	}
	return true
}

// arbitrate lets the shadow take over the lock when it has been stable for
// long enough, disagrees with the lock and is tighter than the primary.
func (e *Engine) arbitrate() {
	if e.shadow.stable {
		e.shadowHit++
	} else {
		e.shadowHit = 0
	}

	if e.locked == 0 || e.shadowHit < e.cfg.ShadowConfidence {
		return
	}
	if math.Abs(e.shadow.bpm-e.locked) < e.cfg.ShadowMinDiff {
		return
	}
	if e.shadow.cv >= e.primary.cv {
		return
	}
	if e.shadow.bpm < e.cfg.MinBPM || e.shadow.bpm > e.cfg.MaxBPM {
		return
	}

	e.primary.reseed(e.shadow.snapshot())
	e.primary.halfRun, e.primary.doubleRun = 0, 0
	e.primary.corrected = e.shadow.corrected
	e.primary.stats(&e.cfg)
	e.primary.bpm = e.shadow.bpm
	e.bpm = e.shadow.bpm
	e.locked = e.shadow.bpm
	e.shadowHit = 0
}

// changed records u as the last update and returns the subscriber if any
// reported field moved.
func (e *Engine) changed(u Update) (func(Update), bool) {
	prev := e.last
	e.last = u
	if prev.BPM == u.BPM && prev.Stable == u.Stable && prev.TapCount == u.TapCount {
		return nil, false
	}
	return e.onUpdate, true
}

// Clear drops all taps and the lock.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.primary.reset()
	e.shadow.reset()
	e.shadowHit = 0
	e.locked = 0
	e.bpm = 0
	e.lastTap = 0
	e.hasLast = false
	e.last = Update{}
}

// CheckTimeout expires the lock if no tap was accepted for longer than the
// lock timeout. It must be called periodically and reports whether the lock
// expired.
func (e *Engine) CheckTimeout(now uint64) bool {
	e.mu.Lock()
	if !e.hasLast || now < e.lastTap || now-e.lastTap <= e.timeoutUs {
		e.mu.Unlock()
		return false
	}

	e.primary.reset()
	e.shadow.reset()
	e.shadowHit = 0
	e.locked = 0
	e.hasLast = false

	u := Update{
		BPM:       e.bpm,
		Stable:    false,
		Timestamp: now,
	}
	e.last = u
	f := e.onUpdate
	e.mu.Unlock()

	if f != nil {
		f(u)
	}
	return true
}

// Expire calls CheckTimeout with the engine clock.
func (e *Engine) Expire() bool {
	return e.CheckTimeout(e.clock.NowMicros())
}

// BPM returns the last computed tempo.
func (e *Engine) BPM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bpm
}

// LockedBPM returns the last stable tempo, or 0 if there is none.
func (e *Engine) LockedBPM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locked
}

// Stable reports whether the current estimate is stable.
func (e *Engine) Stable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primary.stable
}

// CV returns the coefficient of variation of the tap intervals in percent.
func (e *Engine) CV() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primary.cv
}

// TapCount returns the number of buffered taps.
func (e *Engine) TapCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primary.count
}

// CorrectionApplied reports whether a half/double tempo snap happened since
// the last Clear or expiry.
func (e *Engine) CorrectionApplied() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primary.corrected
}
