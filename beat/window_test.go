package beat

import (
	"math/rand"
	"sort"
	"testing"
)

func TestWindowMinMax(t *testing.T) {
	var w window
	for i := 0; i < windowSize; i++ {
		w.add(uint16(1000 + i))
	}
	if w.min != 1000 || w.max != 1099 {
		t.Fatalf("min/max = %d/%d, want 1000/1099", w.min, w.max)
	}

	// overwrite the minimum
	w.add(1050)
	if w.min != 1001 {
		t.Errorf("min = %d after evicting 1000, want 1001", w.min)
	}
}

func TestWindowValidCount(t *testing.T) {
	var w window
	w.add(700)
	w.add(900)
	if w.min != 700 || w.max != 900 {
		t.Errorf("min/max = %d/%d, want 700/900", w.min, w.max)
	}
	if got := w.percentile(20); got != 700 {
		t.Errorf("percentile = %d, want 700", got)
	}
}

func TestNth(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for n := 1; n <= windowSize; n++ {
		a := make([]uint16, n)
		for i := range a {
			a[i] = uint16(r.Intn(64))
		}
		sorted := append([]uint16(nil), a...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		k := r.Intn(n)
		if got := nth(a, k); got != sorted[k] {
			t.Fatalf("n=%d k=%d: nth = %d, want %d", n, k, got, sorted[k])
		}
	}
}
