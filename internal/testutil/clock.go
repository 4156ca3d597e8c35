package testutil

import (
	"sync"
	"time"
)

// FakeClock provides a thread-safe wall clock for tests.
//
// Now returns the current instant and then advances it by Step, so
// consecutive calls are strictly increasing. Backup names and pending
// timestamps built from it are reproducible across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFakeClock creates a clock starting at start that ticks by step on
// every call to Now. A zero step freezes the clock.
func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	return &FakeClock{now: start.UTC(), step: step}
}

// Now returns the current instant and advances the clock by its step.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current instant without advancing.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
