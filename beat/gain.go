package beat

import "fmt"

// Gain is the microphone amplifier gain in dB.
type Gain uint8

// Available gain steps, from the most conservative to the most sensitive.
const (
	Gain40 Gain = 40
	Gain50 Gain = 50
	Gain60 Gain = 60
)

// Valid reports whether g is one of the amplifier steps.
func (g Gain) Valid() bool {
	return g == Gain40 || g == Gain50 || g == Gain60
}

// lower returns the next more conservative step.
func (g Gain) lower() Gain {
	switch g {
	case Gain60:
		return Gain50
	default:
		return Gain40
	}
}

func (g Gain) String() string {
	return fmt.Sprintf("%ddB", uint8(g))
}
