package output

import (
	"context"
	"runtime"
	"time"
)

// spin is how long before a tick deadline Run stops sleeping and polls the
// clock instead, to stay clear of timer slack.
const spin = 200 * time.Microsecond

// Run sends clock ticks at the current interval until ctx is done. It locks
// itself to an OS thread and should get its own goroutine. The schedule is
// restarted by StartSync; a tempo change applies from the next tick.
func (d *Driver) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	var next time.Time
	for {
		d.mu.Lock()
		active := d.state != Stopped && d.mode.HasClock()
		interval := time.Duration(d.intervalUs) * time.Microsecond
		d.mu.Unlock()

		if !active {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
				next = time.Time{}
				continue
			}
		}

		now := time.Now()
		if next.IsZero() {
			next = now
		}
		next = next.Add(interval)
		if late := now.Sub(next); late > 0 {
			// fell behind: drop the lost ticks instead of bursting them
			d.mu.Lock()
			d.stats.MissedTicks += uint64(late/interval) + 1
			d.mu.Unlock()
			next = now.Add(interval)
		}

		if wait := time.Until(next) - spin; wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
				next = time.Time{}
				continue
			case <-timer.C:
			}
		}
		for time.Now().Before(next) {
			runtime.Gosched()
		}

		d.Tick()
	}
}

// Watch calls Watchdog every period until ctx is done.
func (d *Driver) Watch(ctx context.Context, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.Watchdog()
		}
	}
}
