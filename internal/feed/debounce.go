package feed

import (
	"sync"
	"time"
)

// Debouncer owns at most one pending timer. Trigger replaces the pending
// call; Close cancels it and makes later triggers no-ops.
type Debouncer struct {
	mu     sync.Mutex
	delay  time.Duration
	timer  *time.Timer
	seq    uint64
	closed bool
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger schedules fn after the quiet period, cancelling any earlier call
// that has not fired yet.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.stopLocked()
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// a timer that already fired can still lose to a later Trigger/Cancel
		if d.closed || d.seq != seq {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.stopLocked()
	d.seq++
	d.mu.Unlock()
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) Close() {
	d.mu.Lock()
	d.stopLocked()
	d.seq++
	d.closed = true
	d.mu.Unlock()
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
