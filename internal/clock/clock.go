package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts the timer operations used by session processing so
// tests can control when delayed checks fire.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. The returned Timer can
	// cancel the pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was prevented from running.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FakeClock is a deterministic Clock. Time only moves on Advance, and
// due callbacks run synchronously in the goroutine calling Advance.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run once the clock has advanced by d. A
// non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{clock: c, callback: f}
	if d <= 0 {
		t.fired = true
		f()
		return t
	}

	c.mu.Lock()
	t.deadline = c.current.Add(d)
	c.waiters = append(c.waiters, t)
	c.mu.Unlock()
	return t
}

// Pending returns the number of timers that have neither fired nor
// been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.waiters {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and runs every due callback in
// deadline order. Callbacks must not call Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current

	var due, remaining []*fakeTimer
	for _, t := range c.waiters {
		switch {
		case t.stopped || t.fired:
		case !t.deadline.After(target):
			t.fired = true
			due = append(due, t)
		default:
			remaining = append(remaining, t)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.callback()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
