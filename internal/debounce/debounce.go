// Package debounce coalesces bursts of local intents into one action.
//
// Each key owns at most one pending timer. Trigger replaces the pending
// action for a key and restarts its quiet period; only the last action for a
// burst ever runs. Flush runs the pending action immediately, which is how a
// pointer release ends a drag without waiting out the delay.
package debounce

import (
	"sync"
	"time"
)

// Default quiet periods.
const (
	MemoDelay    = 500 * time.Millisecond
	GestureDelay = 400 * time.Millisecond
)

// Timer is the subset of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Implemented by RealClock and
// testutil.ManualClock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock schedules with time.AfterFunc.
type RealClock struct{}

// AfterFunc implements Clock.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type pending struct {
	timer Timer
	fn    func()
	gen   uint64
}

// Debouncer delays actions per key.
//
// Thread-safety: all methods are safe for concurrent use. Actions run on the
// clock's goroutine (or the caller's, for Flush) and must do their own
// synchronization, typically by enqueueing onto the engine.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	clock   Clock
	pending map[string]*pending
	gen     uint64
	stopped bool
}

// New creates a Debouncer with the given quiet period. A nil clock uses
// RealClock.
func New(delay time.Duration, clock Clock) *Debouncer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Debouncer{
		delay:   delay,
		clock:   clock,
		pending: make(map[string]*pending),
	}
}

// Trigger schedules fn for key after the quiet period, replacing any action
// already pending for key.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
	}
	d.gen++
	gen := d.gen
	p := &pending{fn: fn, gen: gen}
	p.timer = d.clock.AfterFunc(d.delay, func() { d.fire(key, gen) })
	d.pending[key] = p
}

// Flush runs the pending action for key now. Reports whether one was pending.
func (d *Debouncer) Flush(key string) bool {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if ok {
		p.fn()
	}
	return ok
}

// Cancel drops the pending action for key without running it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending returns the number of keys with a scheduled action.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending action. Later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.stopped = true
}

// fire runs the action for key if it is still the one scheduled as gen.
// A timer that lost the race with Trigger, Flush or Cancel is a no-op.
func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	p.fn()
}
