package testutil

import (
	"sync"
	"time"
)

// Epoch0 is the default start time for ManualClock.
var Epoch0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a wall-clock source that only moves when told to.
//
// Scheduler and lifecycle tests drive it with Advance so periodic sync
// decisions, backoff deadlines, and GC ages are exact.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock reading start. A zero start means Epoch0.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = Epoch0
	}
	return &ManualClock{now: start}
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new reading.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
