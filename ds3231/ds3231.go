// Package ds3231 drives the DS3231 I²C real-time clock. Besides the time it
// exposes the chip's temperature sensor, which the clock provider reports as
// the board temperature.
package ds3231

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

var (
	// ErrYear is returned by SetTime for years the chip cannot hold.
	ErrYear = errors.New("ds3231: year out of range (2000-2199)")
)

// Device defines a DS3231 device.
type Device struct {
	dev *i2c.Dev
	bus i2c.BusCloser
}

// New returns a new DS3231 device.
//
// Argument "busName" can be used to specify the exact bus to use ("/dev/i2c-2", "I2C2", "2").
// If "busName" argument is specified as an empty string "" the first available bus will be used.
func New(busName string) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("ds3231: could not initialize host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("ds3231: could not open I2C bus: %w", err)
	}

	d, err := NewOnBus(bus)
	if err != nil {
		bus.Close()
		return nil, err
	}
	d.bus = bus
	return d, nil
}

// NewOnBus returns a device on an already opened bus. By default the square
// wave and 32kHz outputs are disabled.
func NewOnBus(bus i2c.Bus) (*Device, error) {
	d := &Device{
		dev: &i2c.Dev{
			Addr: Addr,
			Bus:  bus,
		},
	}

	if _, err := d.Options(
		SquareWave(false, Rate1Hz),
		Output32kHz(false),
	); err != nil {
		return nil, fmt.Errorf("ds3231: could not initialize device: %w", err)
	}

	return d, nil
}

// Close closes the bus if the device opened it.
func (d *Device) Close() error {
	if d.bus == nil {
		return nil
	}
	return d.bus.Close()
}

// Now returns the time held by the chip, in UTC.
func (d *Device) Now() (time.Time, error) {
	b, err := d.ReadBytes(RegSeconds, timeRegSize)
	if err != nil {
		return time.Time{}, fmt.Errorf("ds3231: could not read time: %w", err)
	}

	sec := fromBCD(b[0] & 0x7F)
	minute := fromBCD(b[1] & 0x7F)
	var hour int
	if b[2]&hour12 != 0 {
		hour = fromBCD(b[2]&0x1F) % 12
		if b[2]&pm != 0 {
			hour += 12
		}
	} else {
		hour = fromBCD(b[2] & 0x3F)
	}
	day := fromBCD(b[4] & 0x3F)
	month := fromBCD(b[5] & 0x1F)
	year := minYear + fromBCD(b[6])
	if b[5]&century != 0 {
		year += 100
	}

	return time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.UTC), nil
}

// SetTime writes t, converted to UTC, and clears the oscillator stop flag.
func (d *Device) SetTime(t time.Time) error {
	t = t.UTC()
	year := t.Year() - minYear
	if year < 0 || year > 199 {
		return ErrYear
	}
	var c byte
	if year >= 100 {
		c = century
		year -= 100
	}

	w := []byte{
		RegSeconds,
		toBCD(t.Second()),
		toBCD(t.Minute()),
		toBCD(t.Hour()),
		byte(t.Weekday()) + 1,
		toBCD(t.Day()),
		toBCD(int(t.Month())) | c,
		toBCD(year),
	}
	if _, err := d.dev.Write(w); err != nil {
		return fmt.Errorf("ds3231: could not set time: %w", err)
	}

	if _, err := d.update(RegStatus, StatusOSF, 0); err != nil {
		return fmt.Errorf("ds3231: could not clear oscillator flag: %w", err)
	}
	return nil
}

// LostPower reports whether the oscillator stopped since the time was last
// set, in which case Now cannot be trusted.
func (d *Device) LostPower() (bool, error) {
	s, err := d.Read(RegStatus)
	if err != nil {
		return false, fmt.Errorf("ds3231: could not read status: %w", err)
	}
	return s&StatusOSF != 0, nil
}

// Temperature returns the last temperature conversion in °C, with a 0.25°C
// resolution. The chip converts every 64 seconds on its own.
func (d *Device) Temperature() (float64, error) {
	b, err := d.ReadBytes(RegTempMSB, 2)
	if err != nil {
		return 0, fmt.Errorf("ds3231: could not read temperature: %w", err)
	}
	return float64(int8(b[0])) + float64(b[1]>>6)*0.25, nil
}

// Read reads a single byte from a register.
func (d *Device) Read(reg byte) (byte, error) {
	b := make([]byte, 1)
	if err := d.dev.Tx([]byte{reg}, b); err != nil {
		return 0, fmt.Errorf("ds3231: could not read byte: %w", err)
	}

	return b[0], nil
}

// ReadBytes read n bytes starting at a register.
func (d *Device) ReadBytes(reg byte, n int) ([]byte, error) {
	b := make([]byte, n)
	if err := d.dev.Tx([]byte{reg}, b); err != nil {
		return nil, fmt.Errorf("ds3231: could not read %d bytes: %w", n, err)
	}

	return b, nil
}

// Write writes a byte to a register.
func (d *Device) Write(reg, data byte) error {
	if _, err := d.dev.Write([]byte{reg, data}); err != nil {
		return fmt.Errorf("ds3231: could not write %#x: %w", reg, err)
	}
	return nil
}

func fromBCD(b byte) int {
	return int(b>>4)*10 + int(b&0x0F)
}

func toBCD(n int) byte {
	return byte(n/10)<<4 | byte(n%10)
}
