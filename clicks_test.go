package clapsync

import (
	"testing"

	"github.com/cgxeiji/clapsync/beat"
)

func TestClicks(t *testing.T) {
	const rate = 8000
	src := NewClicks(120, rate)
	det := beat.New(beat.DefaultConfig())

	var beats []beat.Event
	det.OnBeat(func(e beat.Event) { beats = append(beats, e) })

	// one extra sample confirms the last click
	now := uint64(0)
	for i := 0; i < 2*rate+1; i++ {
		v, err := src.Sample()
		if err != nil {
			t.Fatal(err)
		}
		det.ProcessSample(v, now)
		now += 1_000_000 / rate
	}

	if len(beats) != 4 {
		t.Fatalf("detected %d clicks in 2s at 120 bpm, want 4", len(beats))
	}
	for i := 1; i < len(beats); i++ {
		if d := beats[i].Timestamp - beats[i-1].Timestamp; d != 500_000 {
			t.Errorf("click %d after %dus, want 500000", i, d)
		}
	}
}
