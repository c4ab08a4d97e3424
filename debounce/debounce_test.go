package debounce

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// TestMain asserts that Mini/Full's scheduler goroutine actually exits once
// Stop is called, rather than leaking across tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a manually-advanced Clock, letting tests drive the scheduler
// without sleeping real wall-clock time. Advance fires every pending After
// channel whose deadline has passed.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, fakeWaiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var remaining []fakeWaiter
	for _, w := range c.waiters {
		if !now.Before(w.deadline) {
			w.ch <- now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()
}
