package deltalease

import (
	"sync"
	"time"
)

// fakeClock is a manually advanced Clock: Now returns a fixed instant
// that moves only when Advance is called. The engine's own waits still
// sleep on real timers, so advancing it does not shorten them.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
