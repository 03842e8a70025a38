package tempo

import (
	"math"

	"github.com/viterin/vek"
)

// tracker holds a ring of accepted tap timestamps and the statistics derived
// from them. The engine runs two: the primary buffer and a short shadow.
type tracker struct {
	taps  []uint64
	idx   int
	count int

	iv  []float64
	dev []float64

	mean   float64
	bpm    float64
	cv     float64
	stable bool

	halfRun   int
	doubleRun int
	baseline  float64
	corrected bool
}

func newTracker(size int) *tracker {
	return &tracker{
		taps: make([]uint64, size),
		iv:   make([]float64, size-1),
		dev:  make([]float64, size-1),
	}
}

func (t *tracker) reset() {
	t.idx, t.count = 0, 0
	t.mean, t.bpm, t.cv = 0, 0, 0
	t.stable = false
	t.halfRun, t.doubleRun = 0, 0
	t.baseline = 0
	t.corrected = false
}

// at returns the i-th buffered tap, oldest first.
func (t *tracker) at(i int) uint64 {
	n := len(t.taps)
	return t.taps[(t.idx-t.count+i+n)%n]
}

func (t *tracker) push(ts uint64) {
	t.taps[t.idx] = ts
	t.idx++
	t.idx %= len(t.taps)
	if t.count < len(t.taps) {
		t.count++
	}
}

// add ingests an accepted tap. interval is the distance to the previous
// accepted tap in µs, or 0 for the first one. It reports whether a tempo
// correction snapped the tracker.
func (t *tracker) add(ts uint64, interval float64, cfg *Config) bool {
	snap := 0.0
	if interval > 0 && cfg.Correction && !t.corrected && t.count >= cfg.MinStableTaps {
		snap = t.correct(interval, cfg)
	}

	t.push(ts)

	if snap > 0 {
		// Keep only the taps of the run so the statistics describe the
		// corrected tempo from now on.
		keep := cfg.CorrectionRun + 1
		if keep > t.count {
			keep = t.count
		}
		tail := make([]uint64, 0, keep)
		for i := t.count - keep; i < t.count; i++ {
			tail = append(tail, t.at(i))
		}
		t.reseed(tail)
		t.corrected = true
		t.halfRun, t.doubleRun = 0, 0
		t.stats(cfg)
		t.bpm = 60e6 / snap
		return true
	}

	t.stats(cfg)
	return false
}

// correct updates the half/double tempo runs with interval and returns the
// corrected interval once a run is long enough, 0 otherwise.
func (t *tracker) correct(interval float64, cfg *Config) float64 {
	ref := t.mean
	if t.halfRun > 0 || t.doubleRun > 0 {
		ref = t.baseline
	}
	if ref <= 0 {
		return 0
	}

	switch {
	case interval >= ref*cfg.HalfRatio:
		if t.halfRun == 0 && t.doubleRun == 0 {
			t.baseline = ref
		}
		t.halfRun++
		t.doubleRun = 0
		if t.halfRun >= cfg.CorrectionRun {
			return t.baseline * 2
		}
	case interval <= ref*cfg.DoubleRatio:
		if t.halfRun == 0 && t.doubleRun == 0 {
			t.baseline = ref
		}
		t.doubleRun++
		t.halfRun = 0
		if t.doubleRun >= cfg.CorrectionRun {
			return t.baseline / 2
		}
	default:
		t.halfRun, t.doubleRun = 0, 0
	}
	return 0
}

// reseed replaces the buffer content with taps, oldest first. Only the most
// recent len(t.taps) are kept.
func (t *tracker) reseed(taps []uint64) {
	t.idx, t.count = 0, 0
	if len(taps) > len(t.taps) {
		taps = taps[len(taps)-len(t.taps):]
	}
	for _, ts := range taps {
		t.push(ts)
	}
}

// snapshot returns the buffered taps, oldest first.
func (t *tracker) snapshot() []uint64 {
	out := make([]uint64, t.count)
	for i := range out {
		out[i] = t.at(i)
	}
	return out
}

func (t *tracker) stats(cfg *Config) {
	n := t.count - 1
	if n < 1 {
		t.mean, t.bpm, t.cv, t.stable = 0, 0, 0, false
		return
	}

	iv := t.iv[:n]
	prev := t.at(0)
	for i := 1; i < t.count; i++ {
		cur := t.at(i)
		iv[i-1] = float64(cur - prev)
		prev = cur
	}

	mean := vek.Mean(iv)
	sd := 0.0
	if n > 1 {
		dev := vek.SubNumber_Into(t.dev[:n], iv, mean)
		sd = math.Sqrt(vek.Dot(dev, dev) / float64(n-1))
	}

	t.mean = mean
	t.bpm = 60e6 / mean
	t.cv = sd / mean * 100
	t.stable = t.count >= cfg.MinStableTaps && t.cv < cfg.StabilityCV
}
