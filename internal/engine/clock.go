package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps applied events and
// journal records.
//
// Ordering never uses wall time: two clients replaying the same journal see
// the same seq sequence. Safe for concurrent use; outbound journaling takes
// seqs from the sending goroutine while the Run loop takes them for inbound
// events.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at start, typically the journal's
// LastSeq so seqs stay unique across restarts.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
