package engine

import "sync/atomic"

// Clock is a monotonic logical clock.
//
// Every optimistic mutation is stamped with a strictly increasing sequence
// number from this clock. A write acknowledgement clears a project's pending
// entry only when its sequence is still the latest one recorded for that
// project, so an older write finishing late never unpins a newer value.
//
// Clock is safe for concurrent use, though only the Run loop calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
