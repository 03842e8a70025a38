// Package clapsync follows the tempo of live percussion and keeps external
// gear in time with it: a MIDI clock over RTP-MIDI and a relay pulsed on
// every beat.
package clapsync

import (
	"math"
	"sync"

	"github.com/cgxeiji/clapsync/beat"
	"github.com/cgxeiji/clapsync/output"
	"github.com/cgxeiji/clapsync/tempo"
)

// Tempo range forwarded to the outputs.
const (
	MinOutputBPM = 40
	MaxOutputBPM = 240
)

// BPMSource delivers tempo updates.
type BPMSource interface {
	OnUpdate(func(tempo.Update))
}

// BeatSource delivers beat events.
type BeatSource interface {
	OnBeat(func(beat.Event))
}

// Controller is the part of the output driver the bridge drives.
type Controller interface {
	UpdateBPM(bpm float64) bool
	StartSyncAt(bpm float64) bool
	PulseRelay() bool
	State() output.State
	Mode() output.Mode
}

// Bridge forwards tempo updates to the outputs, starts the clock once the
// tempo is stable and pulses the relay on beats.
type Bridge struct {
	out Controller

	mu       sync.Mutex
	autoSync bool
	syncing  bool
	lastBPM  float64
}

// NewBridge returns a bridge subscribed to bpms and beats. Auto sync starts
// disabled.
func NewBridge(bpms BPMSource, beats BeatSource, out Controller) *Bridge {
	b := &Bridge{out: out}
	bpms.OnUpdate(b.handleBPM)
	beats.OnBeat(b.handleBeat)
	return b
}

// SetAutoSyncEnabled enables or disables starting the clock on the first
// stable tempo.
func (b *Bridge) SetAutoSyncEnabled(on bool) {
	b.mu.Lock()
	b.autoSync = on
	b.mu.Unlock()
}

// AutoSyncEnabled reports whether auto sync is on.
func (b *Bridge) AutoSyncEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.autoSync
}

// Syncing reports whether the bridge started the clock and the driver has
// not been stopped since.
func (b *Bridge) Syncing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncing
}

// LastBPM returns the last tempo forwarded to the driver.
func (b *Bridge) LastBPM() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastBPM
}

func (b *Bridge) handleBPM(u tempo.Update) {
	if u.BPM < MinOutputBPM || u.BPM > MaxOutputBPM {
		return
	}
	bpm := math.Round(u.BPM)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.out.UpdateBPM(bpm)
	b.lastBPM = bpm

	if b.out.State() == output.Stopped {
		b.syncing = false
	}
	if b.autoSync && u.Stable && !b.syncing && b.out.Mode().HasClock() {
		b.out.StartSyncAt(bpm)
		b.syncing = true
	}
}

func (b *Bridge) handleBeat(beat.Event) {
	if b.out.Mode().HasRelay() {
		b.out.PulseRelay()
	}
}
