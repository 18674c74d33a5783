package core

import (
	"sync"
	"time"
)

// Clock supplies the current time to the scheduler.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// SimulatedClock is a manually advanced clock. MainThreadScheduler drives it
// in FastForwardBy/AdvanceTo; tasks may also call Advance to model work that
// takes time.
type SimulatedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewSimulatedClock(start time.Time) *SimulatedClock {
	return &SimulatedClock{now: start}
}

func (c *SimulatedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *SimulatedClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// set moves the clock to t if t is later than the current time.
func (c *SimulatedClock) set(t time.Time) {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.mu.Unlock()
}

// alignUp returns the smallest multiple of interval (counted from the Unix
// epoch) that is not before t.
func alignUp(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	ns := t.UnixNano()
	rem := ns % int64(interval)
	if rem < 0 {
		rem += int64(interval)
	}
	if rem == 0 {
		return t
	}
	return time.Unix(0, ns-rem+int64(interval)).In(t.Location())
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
