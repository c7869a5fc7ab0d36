// Package debounce collapses bursts of triggers into a single trailing call.
package debounce

import (
	"sync"
	"time"
)

type Debouncer struct {
	quiet time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

func New(quiet time.Duration, fn func()) *Debouncer {
	return &Debouncer{quiet: quiet, fn: fn}
}

// Trigger arms the timer, cancelling any fire still pending from an earlier trigger.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = true
	var t *time.Timer
	t = time.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		// a later Trigger or Stop replaced this timer
		if d.timer != t {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.pending = false
		d.mu.Unlock()
		d.fn()
	})
	d.timer = t
}

// Stop cancels a pending fire. It reports whether one was pending.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.pending
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
	return was
}

// Flush runs a pending fire immediately on the calling goroutine.
func (d *Debouncer) Flush() bool {
	if !d.Stop() {
		return false
	}
	d.fn()
	return true
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
