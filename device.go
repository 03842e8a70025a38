package clapsync

import (
	"errors"
	"fmt"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"

	"github.com/cgxeiji/clapsync/beat"
	"github.com/cgxeiji/clapsync/clock"
	"github.com/cgxeiji/clapsync/ds3231"
	"github.com/cgxeiji/clapsync/max9814"
	"github.com/cgxeiji/clapsync/mcp3221"
)

var (
	// ErrNoRelay is returned when the relay pin name is unknown.
	ErrNoRelay = errors.New("relay pin not found")
	// ErrNoGainPin is returned by SetGain when no gain pin is wired.
	ErrNoGainPin = errors.New("no gain pin")
)

// Device is the board: the microphone ADC, the amplifier gain pin, the relay
// and the real-time clock. Only the ADC is required.
type Device struct {
	bus      string
	addr     uint16
	relayPin string
	gainPin  string
	noRTC    bool
	aging    int8

	i2c   i2c.BusCloser
	adc   sensor
	amp   *max9814.Device
	relay gpio.PinIO
	rtc   *ds3231.Device
}

type sensor interface {
	Sample() (uint16, error)
	Close() error
}

// New opens the board. By default the first I²C bus is used, the ADC is
// expected at mcp3221.Addr, and the relay, gain pin and RTC are absent unless
// options name them.
func New(opts ...Option) (*Device, error) {
	d := &Device{}
	for _, opt := range opts {
		opt(d)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("clapsync: could not initialize host: %w", err)
	}

	bus, err := i2creg.Open(d.bus)
	if err != nil {
		return nil, fmt.Errorf("clapsync: could not open I2C bus: %w", err)
	}
	d.i2c = bus

	if d.adc, err = mcp3221.NewOnBus(bus, d.addr); err != nil {
		d.Close()
		return nil, fmt.Errorf("clapsync: could not open ADC: %w", err)
	}

	if !d.noRTC {
		// A missing RTC only costs wall-clock time; keep going without it.
		if rtc, err := ds3231.NewOnBus(bus); err == nil {
			if _, err := rtc.Options(ds3231.Aging(d.aging)); err != nil {
				d.Close()
				return nil, fmt.Errorf("clapsync: could not configure RTC: %w", err)
			}
			d.rtc = rtc
		}
	}

	if d.gainPin != "" {
		if d.amp, err = max9814.New(d.gainPin); err != nil {
			d.Close()
			return nil, fmt.Errorf("clapsync: could not open gain pin: %w", err)
		}
	}

	if d.relayPin != "" {
		p := gpioreg.ByName(d.relayPin)
		if p == nil {
			d.Close()
			return nil, fmt.Errorf("clapsync: %w: %q", ErrNoRelay, d.relayPin)
		}
		if err := p.Out(gpio.Low); err != nil {
			d.Close()
			return nil, fmt.Errorf("clapsync: could not release relay: %w", err)
		}
		d.relay = p
	}

	return d, nil
}

// Sample reads one microphone sample.
func (d *Device) Sample() (uint16, error) {
	return d.adc.Sample()
}

// SetGain switches the amplifier gain.
func (d *Device) SetGain(g beat.Gain) error {
	if d.amp == nil {
		return ErrNoGainPin
	}
	return d.amp.SetGain(g)
}

// Relay returns the relay pin, or nil if none is wired.
func (d *Device) Relay() gpio.PinIO {
	return d.relay
}

// RTC returns the real-time clock, or nil if none answered.
func (d *Device) RTC() clock.RTC {
	if d.rtc == nil {
		return nil
	}
	return d.rtc
}

// Close releases the relay and closes the bus.
func (d *Device) Close() error {
	var errs []error
	if d.relay != nil {
		errs = append(errs, d.relay.Out(gpio.Low))
	}
	if d.adc != nil {
		errs = append(errs, d.adc.Close())
	}
	if d.i2c != nil {
		errs = append(errs, d.i2c.Close())
	}
	return errors.Join(errs...)
}
