package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoRTC is returned by Sync when the provider runs without a chip.
	ErrNoRTC = errors.New("clock: no RTC attached")
	// ErrLostPower is returned by Poll while the RTC oscillator stop flag is
	// set. The chip time is ignored until Sync sets it again.
	ErrLostPower = errors.New("clock: RTC lost power")
)

// maxErrors is the number of consecutive bus errors after which the RTC is
// considered unhealthy.
const maxErrors = 3

// RTC is the subset of a real-time clock chip used by RTCProvider.
type RTC interface {
	Now() (time.Time, error)
	SetTime(t time.Time) error
	Temperature() (float64, error)
	// LostPower reports whether the oscillator stopped since the time was
	// last set.
	LostPower() (bool, error)
}

// RTCProvider combines a monotonic clock for timestamps with an RTC for wall
// time, temperature and health.
type RTCProvider struct {
	mono Clock
	rtc  RTC

	mu      sync.Mutex
	errs    int
	lost    bool
	temp    float64
	anchor  time.Time
	anchorU uint64
	lastW   time.Time
}

// NewRTCProvider returns a provider reading from rtc. A nil rtc is allowed and
// yields a provider that is never healthy.
func NewRTCProvider(mono Clock, rtc RTC) *RTCProvider {
	if mono == nil {
		mono = NewSystem()
	}
	return &RTCProvider{
		mono: mono,
		rtc:  rtc,
	}
}

// NowMicros returns the monotonic time.
func (p *RTCProvider) NowMicros() uint64 {
	return p.mono.NowMicros()
}

// RTCHealthy reports whether the RTC answered recently and its time can be
// trusted.
func (p *RTCProvider) RTCHealthy() bool {
	if p.rtc == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs < maxErrors && !p.lost
}

// RTCTemperature returns the temperature from the last successful Poll.
func (p *RTCProvider) RTCTemperature() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.temp
}

// Poll reads the RTC time and temperature. Errors are counted; three in a
// row mark the RTC unhealthy until the next successful read. A chip that lost
// power is unhealthy and does not move the wall time until it is synced.
func (p *RTCProvider) Poll() error {
	if p.rtc == nil {
		return ErrNoRTC
	}

	lost, err := p.rtc.LostPower()
	if err != nil {
		p.fail()
		return fmt.Errorf("clock: could not read RTC status: %w", err)
	}
	t, err := p.rtc.Now()
	if err != nil {
		p.fail()
		return fmt.Errorf("clock: could not read RTC time: %w", err)
	}
	temp, err := p.rtc.Temperature()
	if err != nil {
		p.fail()
		return fmt.Errorf("clock: could not read RTC temperature: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = 0
	p.temp = temp
	p.lost = lost
	if lost {
		return ErrLostPower
	}
	p.anchor = t
	p.anchorU = p.mono.NowMicros()

	return nil
}

// Wall returns the RTC wall time extrapolated with the monotonic clock since
// the last Poll. It never goes backwards, even if a later Poll reads an
// earlier time from the chip.
func (p *RTCProvider) Wall() time.Time {
	now := p.mono.NowMicros()

	p.mu.Lock()
	defer p.mu.Unlock()

	var w time.Time
	if p.anchor.IsZero() {
		w = time.Now()
	} else {
		w = p.anchor.Add(time.Duration(now-p.anchorU) * time.Microsecond)
	}
	if w.Before(p.lastW) {
		w = p.lastW
	}
	p.lastW = w
	return w
}

// Sync sets the RTC from the host clock.
func (p *RTCProvider) Sync() error {
	if p.rtc == nil {
		return ErrNoRTC
	}
	if err := p.rtc.SetTime(time.Now()); err != nil {
		p.fail()
		return fmt.Errorf("clock: could not sync RTC: %w", err)
	}
	return p.Poll()
}

func (p *RTCProvider) fail() {
	p.mu.Lock()
	p.errs++
	p.mu.Unlock()
}
