package clock

import (
	"sync"
	"time"
)

// Clock is the only source of "now" for the schedule and transition code
type Clock interface {
	Now() time.Time
}

// Synced is a wall clock that is only trusted after it has been set from a
// time server. Until then Now returns the raw base clock, which on a device
// without an RTC starts at the epoch after every power loss.
type Synced struct {
	mu     sync.RWMutex
	base   func() time.Time
	offset time.Duration
	synced bool
}

func NewSynced(base func() time.Time) *Synced {
	if base == nil {
		base = time.Now
	}
	return &Synced{base: base}
}

func (c *Synced) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base().Add(c.offset)
}

// Set advances (or rewinds) the clock so that Now reports t
func (c *Synced) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = t.Sub(c.base())
	c.synced = true
}

func (c *Synced) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// Manual is a settable clock for tests and the local demo
type Manual struct {
	mu       sync.Mutex
	now      time.Time
	unsynced bool
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	c.unsynced = false
}

func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SetUnsynced makes Synced report false until the next Set
func (c *Manual) SetUnsynced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsynced = true
}

func (c *Manual) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unsynced
}
