// Package testutil holds deterministic stand-ins for time and identity
// used by tests and the scenario harness.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe deterministic wall clock. Every call to Now
// advances it by a fixed step, so repeated runs of the same scenario
// produce identical timestamps and byte-identical traces.
type Clock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	n    int64
}

// Epoch is the base instant used when none is given.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewClock creates a clock starting at Epoch, stepping one second per
// Now call.
func NewClock() *Clock {
	return &Clock{base: Epoch, step: time.Second}
}

// NewClockAt creates a clock with an explicit base and step.
func NewClockAt(base time.Time, step time.Duration) *Clock {
	return &Clock{base: base, step: step}
}

// Now returns the next instant and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Current returns the instant the next Now call will produce, without
// advancing.
func (c *Clock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Add(time.Duration(c.n) * c.step)
}

// Reset rewinds the clock to its base. After Reset the next Now call
// returns the base instant again.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
