// Package testutil holds deterministic stand-ins for time and run tokens.
package testutil

import (
	"sync"
	"time"
)

// DefaultNow is the instant FixedClock starts at when none is given.
var DefaultNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

// FixedClock is a wall clock that only moves when told to.
//
// Timestamp attributes written during a test then have known values, so reports
// and stored rows can be compared byte for byte.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock stopped at now. A zero now uses DefaultNow.
func NewFixedClock(now time.Time) *FixedClock {
	if now.IsZero() {
		now = DefaultNow
	}
	return &FixedClock{now: now.UTC()}
}

// Now returns the current instant. It has the signature of time.Now.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
