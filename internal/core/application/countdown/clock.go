package countdown

import (
	"sync"
	"time"
)

// Clock abstracts the wall clock and timer scheduling.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be stopped.
type Timer interface {
	Stop() bool
}

// SystemClock is the Clock backed by package time.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock is a Clock whose time only moves when Advance is called.
type ManualClock struct {
	lock   *sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock *ManualClock
	at    time.Time
	f     func()
	done  bool
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{lock: &sync.Mutex{}, now: now}
}

func (c *ManualClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// AfterFunc runs f synchronously if d is not positive.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.lock.Lock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	if d > 0 {
		c.timers = append(c.timers, t)
		c.lock.Unlock()
		return t
	}
	t.done = true
	c.lock.Unlock()

	f()
	return t
}

// Advance moves the clock forward and runs every timer that became due.
func (c *ManualClock) Advance(d time.Duration) {
	c.lock.Lock()
	c.now = c.now.Add(d)
	due := make([]func(), 0)
	pending := c.timers[:0]
	for _, t := range c.timers {
		if t.done {
			continue
		}
		if !t.at.After(c.now) {
			t.done = true
			due = append(due, t.f)
			continue
		}
		pending = append(pending, t)
	}
	c.timers = pending
	c.lock.Unlock()

	for _, f := range due {
		f()
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.lock.Lock()
	defer t.clock.lock.Unlock()

	if t.done {
		return false
	}
	t.done = true
	return true
}
