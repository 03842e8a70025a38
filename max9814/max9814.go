// Package max9814 sets the gain of a MAX9814 microphone amplifier through its
// three-state GAIN pin: high selects 40dB, low 50dB, and floating 60dB.
package max9814

import (
	"errors"
	"fmt"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"github.com/cgxeiji/clapsync/beat"
)

var (
	// ErrNoPin is returned when the GAIN pin name is unknown.
	ErrNoPin = errors.New("max9814: pin not found")
	// ErrGain is returned for gains the amplifier does not offer.
	ErrGain = errors.New("max9814: unsupported gain")
)

// Device defines a MAX9814 gain pin.
type Device struct {
	pin  gpio.PinIO
	gain beat.Gain
}

// New returns the amplifier wired to the named GPIO pin ("GPIO17", "17").
func New(pinName string) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("max9814: could not initialize host: %w", err)
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoPin, pinName)
	}
	return NewOnPin(p), nil
}

// NewOnPin returns the amplifier wired to p. The gain is not changed until
// SetGain is called.
func NewOnPin(p gpio.PinIO) *Device {
	return &Device{pin: p}
}

// SetGain drives the GAIN pin for g.
func (d *Device) SetGain(g beat.Gain) error {
	var err error
	switch g {
	case beat.Gain40:
		err = d.pin.Out(gpio.High)
	case beat.Gain50:
		err = d.pin.Out(gpio.Low)
	case beat.Gain60:
		err = d.pin.In(gpio.Float, gpio.NoEdge)
	default:
		return fmt.Errorf("%w: %v", ErrGain, g)
	}
	if err != nil {
		return fmt.Errorf("max9814: could not set gain %v: %w", g, err)
	}
	d.gain = g
	return nil
}

// Gain returns the last gain set.
func (d *Device) Gain() beat.Gain {
	return d.gain
}
