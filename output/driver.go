// Package output drives the timing outputs: a MIDI clock stream sent as
// RTP-MIDI packets and a relay pulsed on beats.
//
// The driver never blocks on I/O for longer than its transport allows and
// never retries. Transmission failures are counted and reported as a false
// return value.
package output

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"

	"github.com/cgxeiji/clapsync/clock"
	"github.com/cgxeiji/clapsync/rtpmidi"
)

// State is the output state.
type State uint8

// Output states. Watchdog is entered from Running when the relay overruns
// and is left on the next StartSync or StopSync.
const (
	Stopped State = iota
	Running
	Watchdog
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Watchdog:
		return "watchdog"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Mode selects which outputs are active.
type Mode uint8

// Output modes.
const (
	Disabled Mode = iota
	ClockOnly
	RelayOnly
	Both
)

// HasClock reports whether the clock stream is enabled.
func (m Mode) HasClock() bool {
	return m == ClockOnly || m == Both
}

// HasRelay reports whether the relay is enabled.
func (m Mode) HasRelay() bool {
	return m == RelayOnly || m == Both
}

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case ClockOnly:
		return "clock"
	case RelayOnly:
		return "relay"
	case Both:
		return "both"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode parses the String form of a mode.
func ParseMode(s string) (Mode, error) {
	for m := Disabled; m <= Both; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return Disabled, fmt.Errorf("output: unknown mode %q", s)
}

// Relay is the pin driving the relay coil.
type Relay interface {
	Out(l gpio.Level) error
}

// Config holds the output tunables.
type Config struct {
	Mode       Mode
	PPQN       int
	InitialBPM float64
	// PulseDuration is how long a beat keeps the relay closed.
	PulseDuration time.Duration
	// WatchdogTimeout is the hard ceiling for the relay on-time, whatever
	// PulseDuration says.
	WatchdogTimeout time.Duration
	// MinOffTime is the minimum time between the relay opening and the next
	// pulse.
	MinOffTime time.Duration
	SSRC       uint32
}

// DefaultConfig returns the output defaults.
func DefaultConfig() Config {
	return Config{
		Mode:            Both,
		PPQN:            24,
		InitialBPM:      120,
		PulseDuration:   50 * time.Millisecond,
		WatchdogTimeout: 100 * time.Millisecond,
		MinOffTime:      10 * time.Millisecond,
		SSRC:            rtpmidi.DefaultSSRC,
	}
}

// Stats are the output counters.
type Stats struct {
	ClocksSent      uint64        `json:"clocks_sent"`
	StartsSent      uint64        `json:"starts_sent"`
	StopsSent       uint64        `json:"stops_sent"`
	MissedTicks     uint64        `json:"missed_ticks"`
	PulsesSent      uint64        `json:"pulses_sent"`
	WatchdogTrips   uint64        `json:"watchdog_trips"`
	DebounceRejects uint64        `json:"debounce_rejects"`
	RelayErrors     uint64        `json:"relay_errors"`
	PacketsSent     uint64        `json:"packets_sent"`
	BytesSent       uint64        `json:"bytes_sent"`
	SendFailures    uint64        `json:"send_failures"`
	LastLatency     time.Duration `json:"last_latency_ns"`
	AvgLatency      time.Duration `json:"avg_latency_ns"`
	// Jitter is the standard deviation of the recent tick intervals in ms.
	Jitter    float64 `json:"jitter_ms"`
	MaxJitter float64 `json:"max_jitter_ms"`
}

// Driver is the output driver.
type Driver struct {
	cfg   Config
	clock clock.Clock
	tx    io.Writer
	relay Relay
	enc   *rtpmidi.Encoder
	wake  chan struct{}

	pulseUs, watchdogUs, offUs uint64

	mu         sync.Mutex
	state      State
	mode       Mode
	bpm        float64
	intervalUs uint64
	position   int
	lastTick   uint64
	ticked     bool
	jitter     jitterWindow
	latency    movingAverage

	relayOn    bool
	relayTimed bool
	relayStart uint64
	relayOff   uint64
	relayUsed  bool

	stats Stats
}

// New returns a driver writing packets to tx and switching relay. Either may
// be nil when the matching output is not wired.
func New(cfg Config, c clock.Clock, tx io.Writer, relay Relay) *Driver {
	if cfg.PPQN <= 0 {
		cfg.PPQN = 24
	}
	if c == nil {
		c = clock.NewSystem()
	}
	d := &Driver{
		cfg:        cfg,
		clock:      c,
		tx:         tx,
		relay:      relay,
		enc:        rtpmidi.NewEncoder(cfg.SSRC),
		wake:       make(chan struct{}, 1),
		pulseUs:    uint64(cfg.PulseDuration / time.Microsecond),
		watchdogUs: uint64(cfg.WatchdogTimeout / time.Microsecond),
		offUs:      uint64(cfg.MinOffTime / time.Microsecond),
		mode:       cfg.Mode,
	}
	bpm := cfg.InitialBPM
	if d.interval(bpm) == 0 {
		bpm = 120
	}
	d.setBPM(bpm)
	return d
}

// interval returns the tick interval in µs at bpm, or 0 if bpm is not a
// tempo the clock can run at.
func (d *Driver) interval(bpm float64) uint64 {
	us := 60e6 / bpm / float64(d.cfg.PPQN)
	if !(us >= 1) || math.IsInf(us, 0) {
		return 0
	}
	return uint64(us)
}

func (d *Driver) setBPM(bpm float64) bool {
	us := d.interval(bpm)
	if us == 0 {
		return false
	}
	d.bpm = bpm
	d.intervalUs = us
	return true
}

// StartSync starts the clock stream at the current BPM.
func (d *Driver) StartSync() bool {
	return d.StartSyncAt(0)
}

// StartSyncAt starts the clock stream at bpm, or at the current BPM if bpm is
// not positive. Position and clock counters are reset and a START message is
// sent when the clock output is enabled. It returns false, without starting,
// if bpm is too fast for a 1µs tick, and false if the START message could not
// be sent.
func (d *Driver) StartSyncAt(bpm float64) bool {
	d.mu.Lock()
	if bpm > 0 && !d.setBPM(bpm) {
		d.mu.Unlock()
		return false
	}
	d.state = Running
	d.position = 0
	d.ticked = false
	d.jitter.reset()
	d.stats.ClocksSent = 0
	d.stats.MissedTicks = 0

	ok := true
	if d.mode.HasClock() {
		ok = d.send(rtpmidi.StatusStart, d.clock.NowMicros())
		if ok {
			d.stats.StartsSent++
		}
	}
	d.mu.Unlock()

	d.notify()
	return ok
}

// StopSync stops the clock stream and sends a STOP message when the clock
// output is enabled.
func (d *Driver) StopSync() bool {
	d.mu.Lock()
	d.state = Stopped
	ok := true
	if d.mode.HasClock() {
		ok = d.send(rtpmidi.StatusStop, d.clock.NowMicros())
		if ok {
			d.stats.StopsSent++
		}
	}
	d.mu.Unlock()

	d.notify()
	return ok
}

// UpdateBPM changes the tempo without stopping the stream. The new interval
// applies from the next tick. A tempo that is not positive or too fast for a
// 1µs tick is rejected.
func (d *Driver) UpdateBPM(bpm float64) bool {
	if bpm <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setBPM(bpm)
}

// Tick sends one clock message and advances the position. It does nothing
// while stopped or when the clock output is disabled. It returns whether a
// packet was sent.
func (d *Driver) Tick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Stopped || !d.mode.HasClock() {
		return false
	}

	now := d.clock.NowMicros()
	if d.ticked {
		d.jitter.add(float64(now - d.lastTick))
	}
	d.lastTick = now
	d.ticked = true
	d.position++
	d.position %= d.cfg.PPQN

	if !d.send(rtpmidi.StatusClock, now) {
		return false
	}
	d.stats.ClocksSent++
	return true
}

// send encodes and writes one packet. The caller holds the lock.
func (d *Driver) send(status byte, now uint64) bool {
	p := d.enc.Encode(status, now)
	if d.tx == nil {
		d.stats.SendFailures++
		return false
	}

	start := time.Now()
	n, err := d.tx.Write(p[:])
	lat := time.Since(start)
	if err != nil || n != len(p) {
		d.stats.SendFailures++
		return false
	}

	d.stats.PacketsSent++
	d.stats.BytesSent += uint64(n)
	d.stats.LastLatency = lat
	d.latency.add(float64(lat))
	return true
}

func (d *Driver) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// State returns the output state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Mode returns the output mode.
func (d *Driver) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetMode changes the output mode.
func (d *Driver) SetMode(m Mode) {
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()
	d.notify()
}

// BPM returns the current tempo.
func (d *Driver) BPM() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bpm
}

// Interval returns the time between clock ticks.
func (d *Driver) Interval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(d.intervalUs) * time.Microsecond
}

// Position returns the tick position within the quarter note.
func (d *Driver) Position() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

// Jitter returns the standard deviation of the recent tick intervals in ms.
func (d *Driver) Jitter() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jitterLocked()
}

func (d *Driver) jitterLocked() float64 {
	j := d.jitter.stddev() / 1000
	if j > d.stats.MaxJitter {
		d.stats.MaxJitter = j
	}
	return j
}

// Stats returns a copy of the counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Jitter = d.jitterLocked()
	s.MaxJitter = d.stats.MaxJitter
	s.AvgLatency = time.Duration(d.latency.mean)
	return s
}
