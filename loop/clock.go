package loop

import (
	"sync"
	"time"
)

// A Clock reports seconds elapsed since its epoch. Readings never decrease.
type Clock interface {
	ElapsedSeconds() float64
}

// WallClock is a Clock backed by the runtime's monotonic clock.
type WallClock struct {
	start time.Time
}

// NewClock creates a WallClock whose epoch is now.
func NewClock() *WallClock {
	c := new(WallClock)
	c.start = time.Now()
	return c
}

// ElapsedSeconds returns the seconds elapsed since the clock was created.
func (c *WallClock) ElapsedSeconds() float64 {
	return time.Since(c.start).Seconds()
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu      sync.Mutex
	elapsed float64
}

// Set moves the clock to an absolute reading. Earlier readings are ignored.
func (c *ManualClock) Set(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds > c.elapsed {
		c.elapsed = seconds
	}
}

// Advance moves the clock forward by seconds.
func (c *ManualClock) Advance(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds > 0 {
		c.elapsed += seconds
	}
}

func (c *ManualClock) ElapsedSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}
