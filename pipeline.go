package clapsync

import (
	"context"
	"sync"
	"time"

	"github.com/cgxeiji/clapsync/beat"
	"github.com/cgxeiji/clapsync/output"
	"github.com/cgxeiji/clapsync/tempo"
)

// Pipeline wires a detector, a tempo engine and an output driver together.
//
// The components each accept a single subscriber per event kind. The
// pipeline takes those slots and fans the events out, in registration order,
// to any number of observers. Beats reach the tempo engine before any
// observer.
type Pipeline struct {
	Detector *beat.Detector
	Tempo    *tempo.Engine
	Output   *output.Driver
	Bridge   *Bridge

	mu        sync.RWMutex
	beats     []func(beat.Event)
	updates   []func(tempo.Update)
	telemetry []func(beat.Telemetry)
}

// NewPipeline connects det, eng and out and installs a Bridge.
func NewPipeline(det *beat.Detector, eng *tempo.Engine, out *output.Driver) *Pipeline {
	p := &Pipeline{
		Detector: det,
		Tempo:    eng,
		Output:   out,
	}
	det.OnBeat(p.beat)
	det.OnTelemetry(p.snapshot)
	eng.OnUpdate(p.update)
	p.Bridge = NewBridge(p, p, out)
	return p
}

// OnBeat adds a beat observer.
func (p *Pipeline) OnBeat(f func(beat.Event)) {
	p.mu.Lock()
	p.beats = append(p.beats, f)
	p.mu.Unlock()
}

// OnUpdate adds a tempo observer.
func (p *Pipeline) OnUpdate(f func(tempo.Update)) {
	p.mu.Lock()
	p.updates = append(p.updates, f)
	p.mu.Unlock()
}

// OnTelemetry adds a detector snapshot observer.
func (p *Pipeline) OnTelemetry(f func(beat.Telemetry)) {
	p.mu.Lock()
	p.telemetry = append(p.telemetry, f)
	p.mu.Unlock()
}

func (p *Pipeline) beat(e beat.Event) {
	p.Tempo.AddTap(e.Timestamp)

	p.mu.RLock()
	fs := p.beats
	p.mu.RUnlock()
	for _, f := range fs {
		f(e)
	}
}

func (p *Pipeline) update(u tempo.Update) {
	p.mu.RLock()
	fs := p.updates
	p.mu.RUnlock()
	for _, f := range fs {
		f(u)
	}
}

func (p *Pipeline) snapshot(t beat.Telemetry) {
	p.mu.RLock()
	fs := p.telemetry
	p.mu.RUnlock()
	for _, f := range fs {
		f(t)
	}
}

// Expire checks the tempo lock every period until ctx is done.
func (p *Pipeline) Expire(ctx context.Context, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.Tempo.Expire()
		}
	}
}
