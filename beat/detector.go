// Package beat turns a stream of amplitude samples into discrete beat events.
//
// The detector keeps a rolling window of the last 100 samples and derives an
// adaptive threshold from it. A sample that clears the threshold by a margin
// starts a rising edge; the first sample below the running peak confirms the
// beat, after which the detector ignores input for the debounce period.
package beat

import (
	"fmt"
	"sync"
	"time"
)

// State is the detector state.
type State uint8

// Detector states. The cycle is Idle, RisingEdge, Triggered, Debounce, Idle.
const (
	Idle State = iota
	RisingEdge
	Triggered
	Debounce
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RisingEdge:
		return "rising"
	case Triggered:
		return "triggered"
	case Debounce:
		return "debounce"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is emitted once per confirmed beat.
type Event struct {
	// Timestamp is the time of the sample that confirmed the peak, in µs.
	Timestamp uint64
	// Amplitude is the peak sample value.
	Amplitude uint16
	Threshold uint16
	Gain      Gain
	// KickOnly is set for slow attacks (rise time above Config.KickRise),
	// typical of a kick drum rather than a clap.
	KickOnly bool
}

// Telemetry is a periodic snapshot of the detector.
type Telemetry struct {
	Timestamp      uint64 `json:"timestamp_us"`
	Sample         uint16 `json:"sample"`
	Min            uint16 `json:"min"`
	Max            uint16 `json:"max"`
	Threshold      uint16 `json:"threshold"`
	NoiseFloor     uint16 `json:"noise_floor"`
	Gain           Gain   `json:"gain_db"`
	State          State  `json:"state"`
	Beats          uint32 `json:"beats"`
	FalsePositives uint32 `json:"false_positives"`
}

// Config holds the detector tunables. Values are expected to be validated by
// the caller.
type Config struct {
	// ThresholdMargin is added to the adaptive threshold before a sample can
	// start a rising edge.
	ThresholdMargin uint16
	// MinAmplitude is the distance above the noise floor a sample must reach
	// while the window spread is below WideRange.
	MinAmplitude uint16
	WideRange    uint16
	Debounce     time.Duration
	KickRise     time.Duration
	// ClipLevel is the sample value above which AGC steps the gain down.
	ClipLevel         uint16
	TelemetryInterval time.Duration
	Gain              Gain
	// KickOnly drops beats that are not kicks and counts them as false
	// positives.
	KickOnly bool
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		ThresholdMargin:   80,
		MinAmplitude:      200,
		WideRange:         400,
		Debounce:          50 * time.Millisecond,
		KickRise:          4 * time.Millisecond,
		ClipLevel:         4000,
		TelemetryInterval: 500 * time.Millisecond,
		Gain:              Gain50,
	}
}

const noiseFloorEvery = 16

// Detector is a beat detector. ProcessSample must be called from a single
// goroutine; the accessors are safe to call from anywhere.
type Detector struct {
	cfg Config

	debounceUs  uint64
	kickRiseUs  uint64
	telemetryUs uint64

	mu sync.Mutex

	win        window
	samples    uint32
	sample     uint16
	threshold  uint16
	noiseFloor uint16
	gain       Gain
	state      State
	rejecting  bool

	beats          uint32
	falsePositives uint32

	riseStart uint64
	peak      uint16

	lastBeat      uint64
	lastTelemetry uint64
	started       bool

	onBeat      func(Event)
	onTelemetry func(Telemetry)
	onGain      func(Gain)
}

// New returns a detector using cfg.
func New(cfg Config) *Detector {
	if !cfg.Gain.Valid() {
		cfg.Gain = Gain50
	}
	d := &Detector{
		cfg:         cfg,
		debounceUs:  uint64(cfg.Debounce / time.Microsecond),
		kickRiseUs:  uint64(cfg.KickRise / time.Microsecond),
		telemetryUs: uint64(cfg.TelemetryInterval / time.Microsecond),
	}
	d.Init()
	return d
}

// Init resets the detector state. Subscribers are kept.
func (d *Detector) Init() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.win.reset()
	d.samples = 0
	d.sample = 0
	d.threshold = 0
	d.noiseFloor = 0
	d.gain = d.cfg.Gain
	d.state = Idle
	d.rejecting = false
	d.beats = 0
	d.falsePositives = 0
	d.riseStart, d.peak = 0, 0
	d.lastBeat = 0
	d.lastTelemetry = 0
	d.started = false
}

// OnBeat sets the beat subscriber, replacing any previous one.
func (d *Detector) OnBeat(f func(Event)) {
	d.mu.Lock()
	d.onBeat = f
	d.mu.Unlock()
}

// OnTelemetry sets the telemetry subscriber, replacing any previous one.
func (d *Detector) OnTelemetry(f func(Telemetry)) {
	d.mu.Lock()
	d.onTelemetry = f
	d.mu.Unlock()
}

// OnGainChange sets the subscriber notified when the gain changes.
func (d *Detector) OnGainChange(f func(Gain)) {
	d.mu.Lock()
	d.onGain = f
	d.mu.Unlock()
}

// ProcessSample feeds one sample taken at now (µs). Subscribers are called
// synchronously after the detector state has been updated.
func (d *Detector) ProcessSample(value uint16, now uint64) {
	var (
		beat      Event
		fireBeat  bool
		snap      Telemetry
		fireSnap  bool
		fireGain  bool
		onBeat    func(Event)
		onTele    func(Telemetry)
		onGain    func(Gain)
		gainAfter Gain
	)

	d.mu.Lock()

	if !d.started {
		d.started = true
		d.lastTelemetry = now
	}

	d.sample = value
	d.win.add(value)
	d.threshold = uint16(uint32(d.win.spread())*4/5) + d.win.min
	d.samples++
	if d.samples%noiseFloorEvery == 0 {
		d.noiseFloor = d.win.percentile(20)
	}

	if value > d.cfg.ClipLevel && d.gain != Gain40 {
		d.gain = d.gain.lower()
		fireGain = true
		gainAfter = d.gain
	}

	switch d.state {
	case Idle:
		if uint32(value) <= uint32(d.threshold)+uint32(d.cfg.ThresholdMargin) {
			d.rejecting = false
			break
		}
		if d.win.spread() < d.cfg.WideRange &&
			uint32(value) <= uint32(d.noiseFloor)+uint32(d.cfg.MinAmplitude) {
			if !d.rejecting {
				d.rejecting = true
				d.falsePositives++
			}
			break
		}
		d.rejecting = false
		d.riseStart = now
		d.peak = value
		d.state = RisingEdge

	case RisingEdge:
		if value >= d.peak {
			d.peak = value
			break
		}
		d.state = Triggered
		beat, fireBeat = d.trigger(now)
		d.state = Debounce

	case Debounce:
		if now-d.lastBeat >= d.debounceUs {
			d.state = Idle
		}
	}

	if now-d.lastTelemetry >= d.telemetryUs {
		d.lastTelemetry = now
		snap = d.snapshot(now)
		fireSnap = true
	}

	onBeat, onTele, onGain = d.onBeat, d.onTelemetry, d.onGain
	d.mu.Unlock()

	if fireGain && onGain != nil {
		onGain(gainAfter)
	}
	if fireBeat && onBeat != nil {
		onBeat(beat)
	}
	if fireSnap && onTele != nil {
		onTele(snap)
	}
}

// trigger confirms the beat whose peak was the previous sample.
func (d *Detector) trigger(now uint64) (Event, bool) {
	rise := now - d.riseStart
	kick := rise > d.kickRiseUs
	d.lastBeat = now

	if d.cfg.KickOnly && !kick {
		d.falsePositives++
		return Event{}, false
	}

	d.beats++
	return Event{
		Timestamp: now,
		Amplitude: d.peak,
		Threshold: d.threshold,
		Gain:      d.gain,
		KickOnly:  kick,
	}, true
}

func (d *Detector) snapshot(now uint64) Telemetry {
	return Telemetry{
		Timestamp:      now,
		Sample:         d.sample,
		Min:            d.win.min,
		Max:            d.win.max,
		Threshold:      d.threshold,
		NoiseFloor:     d.noiseFloor,
		Gain:           d.gain,
		State:          d.state,
		Beats:          d.beats,
		FalsePositives: d.falsePositives,
	}
}

// Snapshot returns the current detector telemetry.
func (d *Detector) Snapshot() Telemetry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot(d.lastTelemetry)
}

// Threshold returns the current adaptive threshold.
func (d *Detector) Threshold() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// NoiseFloor returns the last noise floor estimate.
func (d *Detector) NoiseFloor() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.noiseFloor
}

// State returns the detector state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Gain returns the current gain.
func (d *Detector) Gain() Gain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain
}

// SetGain sets the gain. This is the only way to raise the gain again after
// AGC reduced it.
func (d *Detector) SetGain(g Gain) {
	if !g.Valid() {
		return
	}
	d.mu.Lock()
	changed := d.gain != g
	d.gain = g
	onGain := d.onGain
	d.mu.Unlock()

	if changed && onGain != nil {
		onGain(g)
	}
}

// BeatCount returns the number of beats emitted since Init.
func (d *Detector) BeatCount() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.beats
}

// FalsePositives returns the number of rejected triggers since Init.
func (d *Detector) FalsePositives() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.falsePositives
}
