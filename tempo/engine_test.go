package tempo

import (
	"math"
	"testing"

	"github.com/cgxeiji/clapsync/clock"
)

func tapAt(e *Engine, start, interval uint64, n int) uint64 {
	ts := start
	for i := 0; i < n; i++ {
		e.AddTap(ts)
		ts += interval
	}
	return ts - interval
}

func TestRoundTrip(t *testing.T) {
	intervals := []uint64{100_000, 250_000, 333_333, 500_000, 1_000_000, 2_000_000}

	for _, iv := range intervals {
		for n := 2; n <= 8; n++ {
			e := New(DefaultConfig(), clock.NewManual(0))
			tapAt(e, 1_000_000, iv, n)

			want := 60e6 / float64(iv)
			if got := e.BPM(); math.Abs(got-want) > 1e-6 {
				t.Errorf("interval %d, %d taps: BPM = %v, want %v", iv, n, got, want)
			}
			if stable := e.Stable(); stable != (n >= 4) {
				t.Errorf("interval %d, %d taps: Stable = %v", iv, n, stable)
			}
		}
	}
}

func TestRejectInterval(t *testing.T) {
	e := New(DefaultConfig(), nil)

	if !e.AddTap(1_000_000) {
		t.Fatal("first tap rejected")
	}
	if e.AddTap(1_099_999) {
		t.Error("tap 99.999ms later accepted")
	}
	if e.AddTap(3_000_001) {
		t.Error("tap 2000.001ms later accepted")
	}
	// the rejected taps did not move the reference
	if !e.AddTap(1_500_000) {
		t.Error("tap 500ms after the last accepted one rejected")
	}
	if got := e.BPM(); math.Abs(got-120) > 1e-9 {
		t.Errorf("BPM = %v, want 120", got)
	}
	if e.AddTap(1_500_000) {
		t.Error("duplicate timestamp accepted")
	}
}

func TestTempoCorrection(t *testing.T) {
	tests := []struct {
		name    string
		slow    int
		snapped bool
	}{
		{name: "four", slow: 4, snapped: false},
		{name: "five", slow: 5, snapped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(DefaultConfig(), nil)
			last := tapAt(e, 0, 500_000, 4)
			if !e.Stable() || e.LockedBPM() != 120 {
				t.Fatalf("not locked at 120: bpm=%v stable=%v", e.BPM(), e.Stable())
			}

			tapAt(e, last+1_000_000, 1_000_000, tt.slow)

			if got := e.CorrectionApplied(); got != tt.snapped {
				t.Errorf("CorrectionApplied = %v, want %v", got, tt.snapped)
			}
			bpm := e.BPM()
			if tt.snapped {
				if math.Abs(bpm-60) > 0.5 {
					t.Errorf("BPM = %v, want ~60", bpm)
				}
				if !e.Stable() {
					t.Error("not stable after correction")
				}
			} else if bpm < 70 {
				t.Errorf("BPM = %v, snapped too early", bpm)
			}
		})
	}
}

func TestDoubleTempoCorrection(t *testing.T) {
	e := New(DefaultConfig(), nil)
	last := tapAt(e, 0, 500_000, 4)
	tapAt(e, last+250_000, 250_000, 5)

	if !e.CorrectionApplied() {
		t.Fatal("no correction after five double tempo intervals")
	}
	if got := e.BPM(); math.Abs(got-240) > 0.5 {
		t.Errorf("BPM = %v, want ~240", got)
	}
}

func TestCorrectionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Correction = false
	e := New(cfg, nil)
	last := tapAt(e, 0, 500_000, 4)
	tapAt(e, last+1_000_000, 1_000_000, 8)

	if e.CorrectionApplied() {
		t.Error("correction applied while disabled")
	}
}

func TestWraparound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Correction = false
	e := New(cfg, nil)

	e.AddTap(0)
	tapAt(e, 1_000_000, 500_000, 63)

	if e.TapCount() != BufferSize {
		t.Fatalf("TapCount = %d, want %d", e.TapCount(), BufferSize)
	}
	if e.BPM() >= 120 || e.CV() == 0 {
		t.Fatalf("first interval not accounted: bpm=%v cv=%v", e.BPM(), e.CV())
	}

	// 65th tap evicts the first one, and with it the 1000ms interval
	e.AddTap(1_000_000 + 63*500_000)

	if e.TapCount() != BufferSize {
		t.Errorf("TapCount = %d, want %d", e.TapCount(), BufferSize)
	}
	if got := e.BPM(); math.Abs(got-120) > 1e-9 {
		t.Errorf("BPM = %v, want 120", got)
	}
	if got := e.CV(); got > 1e-9 {
		t.Errorf("CV = %v, want 0", got)
	}
}

func TestUpdates(t *testing.T) {
	e := New(DefaultConfig(), nil)

	var got []Update
	e.OnUpdate(func(u Update) { got = append(got, u) })

	tapAt(e, 0, 500_000, 4)

	if len(got) != 3 {
		t.Fatalf("got %d updates, want 3: %+v", len(got), got)
	}
	last := got[len(got)-1]
	if math.Abs(last.BPM-120) > 1e-9 || !last.Stable || last.TapCount != 4 || last.Timestamp != 1_500_000 {
		t.Errorf("last update = %+v", last)
	}
}

func TestLockExpiry(t *testing.T) {
	c := clock.NewManual(0)
	e := New(DefaultConfig(), c)

	var got []Update
	e.OnUpdate(func(u Update) { got = append(got, u) })

	last := tapAt(e, 0, 500_000, 4)

	c.Set(last + 3_000_000)
	if e.Expire() {
		t.Fatal("expired at exactly the timeout")
	}
	c.Set(last + 3_000_001)
	if !e.Expire() {
		t.Fatal("lock did not expire")
	}

	if e.LockedBPM() != 0 || e.Stable() || e.TapCount() != 0 {
		t.Errorf("state after expiry: locked=%v stable=%v taps=%d", e.LockedBPM(), e.Stable(), e.TapCount())
	}
	u := got[len(got)-1]
	if u.Stable || u.TapCount != 0 {
		t.Errorf("expiry update = %+v", u)
	}

	// a tap long after the expiry starts a fresh measurement
	if !e.AddTap(last + 10_000_000) {
		t.Error("first tap after expiry rejected")
	}
	if e.Expire() {
		t.Error("expired twice")
	}
}

func TestShadowTakesOver(t *testing.T) {
	e := New(DefaultConfig(), nil)

	// lock at 120
	last := tapAt(e, 0, 500_000, BufferSize)
	if e.LockedBPM() != 120 {
		t.Fatalf("LockedBPM = %v, want 120", e.LockedBPM())
	}

	// move to 100 bpm; the primary buffer stays mixed for a long time
	tapAt(e, last+600_000, 600_000, ShadowSize+8)

	if got := e.LockedBPM(); math.Abs(got-100) > 1e-6 {
		t.Errorf("LockedBPM = %v, want 100", got)
	}
	if got := e.BPM(); math.Abs(got-100) > 1e-6 {
		t.Errorf("BPM = %v, want 100", got)
	}
}

func TestClear(t *testing.T) {
	e := New(DefaultConfig(), nil)
	tapAt(e, 0, 500_000, 6)
	e.Clear()

	if e.BPM() != 0 || e.TapCount() != 0 || e.Stable() || e.LockedBPM() != 0 {
		t.Error("Clear did not reset the engine")
	}
	if !e.AddTap(10) {
		t.Error("first tap after Clear rejected")
	}
}
