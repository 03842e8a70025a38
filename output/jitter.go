package output

import (
	"math"

	"github.com/viterin/vek"
)

const jitterSize = 100

// jitterWindow keeps the last tick intervals in µs.
type jitterWindow struct {
	buffer [jitterSize]float64
	dev    [jitterSize]float64
	idx    int
	n      int
}

func (j *jitterWindow) reset() {
	j.idx, j.n = 0, 0
}

func (j *jitterWindow) add(v float64) {
	j.buffer[j.idx] = v
	j.idx++
	j.idx %= jitterSize
	if j.n < jitterSize {
		j.n++
	}
}

// stddev returns the population standard deviation of the window in µs.
func (j *jitterWindow) stddev() float64 {
	if j.n < 2 {
		return 0
	}
	x := j.buffer[:j.n]
	dev := vek.SubNumber_Into(j.dev[:j.n], x, vek.Mean(x))
	return math.Sqrt(vek.Dot(dev, dev) / float64(j.n))
}
