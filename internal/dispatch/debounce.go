package dispatch

import (
	"sync"
	"time"
)

// DefaultDebounceWindow is the quiet period before a continuous control fires.
const DefaultDebounceWindow = 300 * time.Millisecond

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. time.AfterFunc is the production scheduler;
// tests substitute a manual clock.
type Scheduler func(d time.Duration, f func()) Timer

// AfterFunc schedules with time.AfterFunc.
func AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer collapses bursts of values into one call of action carrying the
// latest value, made once the input has been quiet for the window.
// It is safe for concurrent use.
type Debouncer[T any] struct {
	window   time.Duration
	action   func(T)
	schedule Scheduler

	mu      sync.Mutex
	timer   Timer
	pending T
	armed   bool
	gen     uint64
	stopped bool
}

// NewDebouncer creates a debouncer driven by the wall clock.
func NewDebouncer[T any](window time.Duration, action func(T)) *Debouncer[T] {
	return NewDebouncerWithScheduler(window, action, AfterFunc)
}

// NewDebouncerWithScheduler creates a debouncer driven by schedule.
func NewDebouncerWithScheduler[T any](window time.Duration, action func(T), schedule Scheduler) *Debouncer[T] {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer[T]{window: window, action: action, schedule: schedule}
}

// Trigger records v and restarts the quiet period. Any earlier pending value
// is dropped.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = v
	d.armed = true
	d.gen++
	gen := d.gen
	d.timer = d.schedule(d.window, func() { d.fire(gen) })
}

// fire delivers the pending value unless a later Trigger, Flush or Stop
// superseded the timer that called it.
func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.armed {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.armed = false
	d.timer = nil
	d.mu.Unlock()

	d.action(v)
}

// Flush delivers the pending value immediately, if any.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	v := d.pending
	d.armed = false
	d.gen++
	d.mu.Unlock()

	d.action(v)
}

// Cancel drops the pending value without delivering it.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	var zero T
	d.pending = zero
	d.armed = false
	d.gen++
}

// Stop cancels any pending value and ignores later triggers.
func (d *Debouncer[T]) Stop() {
	d.Cancel()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

// Pending reports whether a value is waiting for the quiet period to end.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}
