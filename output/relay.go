package output

import (
	"periph.io/x/periph/conn/gpio"
)

// PulseRelay closes the relay for the configured pulse duration. A request
// while the relay is closed, or before the minimum off-time has passed since
// it opened, is rejected and counted; the running pulse is not touched.
func (d *Driver) PulseRelay() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.mode.HasRelay() {
		return false
	}

	now := d.clock.NowMicros()
	if d.relayOn || (d.relayUsed && now-d.relayOff < d.offUs) {
		d.stats.DebounceRejects++
		return false
	}

	if !d.switchRelay(gpio.High) {
		return false
	}
	d.relayOn = true
	d.relayTimed = true
	d.relayStart = now
	d.stats.PulsesSent++
	return true
}

// SetRelay switches the relay by hand. A closed relay stays closed until
// SetRelay(false) or until the watchdog opens it.
func (d *Driver) SetRelay(on bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.NowMicros()
	if !on {
		if d.relayOn {
			d.open(now)
		}
		return true
	}
	if d.relayOn {
		d.relayTimed = false
		return true
	}
	if !d.switchRelay(gpio.High) {
		return false
	}
	d.relayOn = true
	d.relayTimed = false
	d.relayStart = now
	return true
}

// Watchdog ends finished pulses and forces the relay open once it has been
// closed for the watchdog timeout. A forced open counts one trip and moves a
// running driver to the Watchdog state. It must be called periodically.
func (d *Driver) Watchdog() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.relayOn {
		return
	}

	now := d.clock.NowMicros()
	on := now - d.relayStart

	if on >= d.watchdogUs {
		d.open(now)
		d.stats.WatchdogTrips++
		if d.state == Running {
			d.state = Watchdog
		}
		return
	}

	if d.relayTimed && on >= d.pulseUs {
		d.open(now)
	}
}

// RelayOn reports whether the relay is closed.
func (d *Driver) RelayOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.relayOn
}

// Close opens the relay.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.relayOn = false
	d.relayOff = d.clock.NowMicros()
	d.relayUsed = true
	if d.relay == nil {
		return nil
	}
	return d.relay.Out(gpio.Low)
}

// open releases the relay. The off time is recorded even if the pin write
// fails so the off-time rule keeps holding.
func (d *Driver) open(now uint64) {
	d.switchRelay(gpio.Low)
	d.relayOn = false
	d.relayOff = now
	d.relayUsed = true
}

func (d *Driver) switchRelay(l gpio.Level) bool {
	if d.relay == nil {
		return true
	}
	if err := d.relay.Out(l); err != nil {
		d.stats.RelayErrors++
		return false
	}
	return true
}
