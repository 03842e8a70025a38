package clapsync

import (
	"errors"
	"testing"

	"github.com/cgxeiji/clapsync/beat"
)

type adc struct {
	value  uint16
	closed bool
}

func (a *adc) Sample() (uint16, error) {
	return a.value, nil
}

func (a *adc) Close() error {
	a.closed = true
	return nil
}

func TestOptions(t *testing.T) {
	d := &Device{}

	undo := OnBus("I2C1")(d)
	if d.bus != "I2C1" {
		t.Fatalf("bus = %q", d.bus)
	}
	undo(d)
	if d.bus != "" {
		t.Errorf("bus = %q after undo", d.bus)
	}

	OnADCAddr(0x48)(d)
	OnRelayPin("GPIO27")(d)
	undo = OnGainPin("GPIO17")(d)
	WithoutRTC(true)(d)
	OnRTCAging(-3)(d)
	if d.addr != 0x48 || d.relayPin != "GPIO27" || d.gainPin != "GPIO17" || !d.noRTC || d.aging != -3 {
		t.Errorf("options not applied: %+v", d)
	}
	undo(d)
	if d.gainPin != "" {
		t.Errorf("gain pin = %q after undo", d.gainPin)
	}
}

func TestDeviceWithoutPeripherals(t *testing.T) {
	a := &adc{value: 1234}
	d := &Device{adc: a}

	v, err := d.Sample()
	if err != nil || v != 1234 {
		t.Errorf("Sample() = %d, %v", v, err)
	}
	if err := d.SetGain(beat.Gain40); !errors.Is(err, ErrNoGainPin) {
		t.Errorf("SetGain() = %v, want ErrNoGainPin", err)
	}
	if d.Relay() != nil {
		t.Error("Relay() not nil")
	}
	if d.RTC() != nil {
		t.Error("RTC() not nil")
	}
	if err := d.Close(); err != nil || !a.closed {
		t.Errorf("Close() = %v, closed %v", err, a.closed)
	}
}
