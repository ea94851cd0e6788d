package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a WallClock.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// WallClock is a deterministic wall clock for tests. Every call to Now
// returns the current instant and then advances it by step, so successive
// timestamps are distinct and reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type WallClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewWallClock creates a clock starting at start. A zero start means Epoch;
// a zero step freezes the clock.
func NewWallClock(start time.Time, step time.Duration) *WallClock {
	if start.IsZero() {
		start = Epoch
	}
	start = start.UTC()
	return &WallClock{start: start, now: start, step: step}
}

// Now returns the current instant and advances the clock by one step.
// It has the signature of time.Now so it can be passed where one is expected.
func (c *WallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the instant the next Now call will return.
func (c *WallClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d without consuming a step.
func (c *WallClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset returns the clock to its start.
//
// Used for test reuse. After Reset(), the next call to Now() returns the
// start instant again.
func (c *WallClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
