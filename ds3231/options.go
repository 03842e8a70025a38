package ds3231

import "fmt"

// Option defines a functional option for the device.
type Option func(d *Device) (Option, error)

// Options set different configuration options and returns the previous value
// of the last option passed.
func (d *Device) Options(options ...Option) (Option, error) {
	var old Option
	var err error
	for _, opt := range options {
		old, err = opt(d)
		if err != nil {
			return nil, err
		}
	}

	return old, nil
}

// update replaces the bits in mask of register reg with flag and returns the
// previous value of those bits.
func (d *Device) update(reg, mask, flag byte) (byte, error) {
	cfg, err := d.Read(reg)
	if err != nil {
		return 0, fmt.Errorf("could not get %#x from %#x: %w", mask, reg, err)
	}
	old := cfg & mask
	cfg &^= mask
	cfg |= flag & mask
	if err := d.Write(reg, cfg); err != nil {
		return 0, fmt.Errorf("could not set %#x in %#x: %w", flag, reg, err)
	}

	return old, nil
}

// SquareWave enables the square wave on the INT/SQW pin at the given rate.
// When disabled the pin works as an alarm interrupt output.
func SquareWave(on bool, rate Rate) Option {
	return func(d *Device) (Option, error) {
		flag := byte(rate)
		if !on {
			flag |= CtrlINTCN
		}
		old, err := d.update(RegControl, CtrlINTCN|rateMask, flag)
		if err != nil {
			return nil, fmt.Errorf("ds3231: could not configure square wave: %w", err)
		}

		return SquareWave(old&CtrlINTCN == 0, Rate(old&rateMask)), nil
	}
}

// Output32kHz enables the 32kHz output pin.
func Output32kHz(on bool) Option {
	return func(d *Device) (Option, error) {
		var flag byte
		if on {
			flag = StatusEN32kHz
		}
		old, err := d.update(RegStatus, StatusEN32kHz, flag)
		if err != nil {
			return nil, fmt.Errorf("ds3231: could not configure 32kHz output: %w", err)
		}

		return Output32kHz(old != 0), nil
	}
}

// Aging sets the crystal aging offset, in steps of about 0.1ppm.
func Aging(offset int8) Option {
	return func(d *Device) (Option, error) {
		old, err := d.update(RegAging, 0xFF, byte(offset))
		if err != nil {
			return nil, fmt.Errorf("ds3231: could not configure aging offset: %w", err)
		}

		return Aging(int8(old)), nil
	}
}
