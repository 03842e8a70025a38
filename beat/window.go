package beat

const windowSize = 100

// window is a ring of the most recent samples. Until it has wrapped once only
// the first valid entries take part in the statistics.
type window struct {
	buffer [windowSize]uint16
	idx    int
	valid  int

	max uint16
	min uint16

	scratch [windowSize]uint16
}

func (w *window) reset() {
	*w = window{}
}

func (w *window) add(v uint16) {
	full := w.valid == windowSize
	old := w.buffer[w.idx]
	w.buffer[w.idx] = v
	w.idx++
	w.idx %= windowSize

	if !full {
		w.valid++
		if w.valid == 1 {
			w.min, w.max = v, v
			return
		}
		w.minmax(v)
		return
	}

	if old == w.max || old == w.min {
		w.min, w.max = v, v
		for _, b := range w.buffer {
			w.minmax(b)
		}
	} else {
		w.minmax(v)
	}
}

func (w *window) minmax(v uint16) {
	if v > w.max {
		w.max = v
	}
	if v < w.min {
		w.min = v
	}
}

func (w *window) spread() uint16 {
	return w.max - w.min
}

// percentile returns the p-th percentile of the valid entries using partial
// selection on a scratch copy.
func (w *window) percentile(p int) uint16 {
	if w.valid == 0 {
		return 0
	}
	a := w.scratch[:w.valid]
	copy(a, w.buffer[:w.valid])
	k := w.valid * p / 100
	if k >= w.valid {
		k = w.valid - 1
	}
	return nth(a, k)
}

// nth reorders a so that a[k] holds the k-th smallest value and returns it.
func nth(a []uint16, k int) uint16 {
	lo, hi := 0, len(a)-1
	for lo < hi {
		// median of three
		mid := lo + (hi-lo)/2
		if a[mid] < a[lo] {
			a[mid], a[lo] = a[lo], a[mid]
		}
		if a[hi] < a[lo] {
			a[hi], a[lo] = a[lo], a[hi]
		}
		if a[hi] < a[mid] {
			a[hi], a[mid] = a[mid], a[hi]
		}
		pivot := a[mid]

		i, j := lo, hi
		for i <= j {
			for a[i] < pivot {
				i++
			}
			for a[j] > pivot {
				j--
			}
			if i <= j {
				a[i], a[j] = a[j], a[i]
				i++
				j--
			}
		}
		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return a[k]
		}
	}
	return a[k]
}
