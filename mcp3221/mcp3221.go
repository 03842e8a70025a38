// Package mcp3221 reads the MCP3221 12-bit I²C analog to digital converter
// used to sample the microphone amplifier.
package mcp3221

import (
	"fmt"

	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

// Addr is the default address of the MCP3221A5.
const Addr = 0x4D

// Max is the largest value returned by Sample.
const Max = 0x0FFF

// Device defines a MCP3221 device.
type Device struct {
	dev *i2c.Dev
	bus i2c.BusCloser
	buf [2]byte
}

// New returns a new MCP3221 device.
//
// Argument "busName" can be used to specify the exact bus to use ("/dev/i2c-2", "I2C2", "2").
// Argument "addr" can be used to specify an alternative address; 0 selects Addr.
// If "busName" argument is specified as an empty string "" the first available bus will be used.
func New(busName string, addr uint16) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mcp3221: could not initialize host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("mcp3221: could not open I2C bus: %w", err)
	}

	d, err := NewOnBus(bus, addr)
	if err != nil {
		bus.Close()
		return nil, err
	}
	d.bus = bus
	return d, nil
}

// NewOnBus returns a device on an already opened bus. The bus is not closed
// by Close.
func NewOnBus(bus i2c.Bus, addr uint16) (*Device, error) {
	if addr == 0 {
		addr = Addr
	}
	d := &Device{
		dev: &i2c.Dev{
			Addr: addr,
			Bus:  bus,
		},
	}

	if _, err := d.Sample(); err != nil {
		return nil, fmt.Errorf("mcp3221: no answer at %#x: %w", addr, err)
	}
	return d, nil
}

// Sample reads one conversion.
func (d *Device) Sample() (uint16, error) {
	if err := d.dev.Tx(nil, d.buf[:]); err != nil {
		return 0, fmt.Errorf("mcp3221: could not read sample: %w", err)
	}
	return decode(d.buf), nil
}

// decode extracts the 12-bit result; the upper nibble of the first byte is
// always zero on the wire.
func decode(b [2]byte) uint16 {
	return uint16(b[0]&0x0F)<<8 | uint16(b[1])
}

// Close closes the bus if the device opened it.
func (d *Device) Close() error {
	if d.bus == nil {
		return nil
	}
	return d.bus.Close()
}
