package clapsync

// An Option configures a device.
type Option func(d *Device) Option

// OnBus can be used to specify I²C bus name
// ("/dev/i2c-2", "I2C2", "2"). By default, the bus name is "", which selects
// the first available bus.
func OnBus(name string) Option {
	return func(d *Device) Option {
		old := d.bus
		d.bus = name
		return OnBus(old)
	}
}

// OnADCAddr can be used to specify an alternative ADC address.
// By default, the address is 0x4D.
func OnADCAddr(addr uint16) Option {
	return func(d *Device) Option {
		old := d.addr
		d.addr = addr
		return OnADCAddr(old)
	}
}

// OnRelayPin names the GPIO driving the relay ("GPIO27", "27").
func OnRelayPin(name string) Option {
	return func(d *Device) Option {
		old := d.relayPin
		d.relayPin = name
		return OnRelayPin(old)
	}
}

// OnGainPin names the GPIO wired to the amplifier GAIN pin.
func OnGainPin(name string) Option {
	return func(d *Device) Option {
		old := d.gainPin
		d.gainPin = name
		return OnGainPin(old)
	}
}

// OnRTCAging sets the RTC crystal aging offset written when the RTC is
// found. By default, the offset is 0.
func OnRTCAging(offset int8) Option {
	return func(d *Device) Option {
		old := d.aging
		d.aging = offset
		return OnRTCAging(old)
	}
}

// WithoutRTC skips probing for the real-time clock.
func WithoutRTC(skip bool) Option {
	return func(d *Device) Option {
		old := d.noRTC
		d.noRTC = skip
		return WithoutRTC(old)
	}
}
