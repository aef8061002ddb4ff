package clockfake

import (
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/kb-console/internal/clock"
)

var _ clock.Clock = (*FakeClock)(nil)

// FakeClock is a manually advanced clock. Timer callbacks run synchronously
// on the goroutine that calls Advance or Fire.
type FakeClock struct {
	lock   sync.Mutex
	now    time.Time
	timers []*FakeTimer
}

// FakeTimer is a timer created by FakeClock.
type FakeTimer struct {
	clock    *FakeClock
	at       time.Time
	duration time.Duration
	f        func()
	stopped  bool
	fired    bool
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *FakeClock) Set(now time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.lock.Lock()
	defer c.lock.Unlock()

	t := &FakeTimer{
		clock:    c,
		at:       c.now.Add(d),
		duration: d,
		f:        f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires every timer that became due, in
// due-time order.
func (c *FakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := make([]*FakeTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(now) {
			due = append(due, t)
		}
	}
	c.lock.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].at.Before(due[j].at)
	})
	for _, t := range due {
		t.Fire()
	}
}

// ActiveTimers returns the timers that have neither fired nor been stopped.
func (c *FakeClock) ActiveTimers() []*FakeTimer {
	c.lock.Lock()
	defer c.lock.Unlock()

	active := make([]*FakeTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			active = append(active, t)
		}
	}
	return active
}

// Stop implements clock.Timer.
func (t *FakeTimer) Stop() bool {
	t.clock.lock.Lock()
	defer t.clock.lock.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Fire runs the callback immediately if the timer is still active.
func (t *FakeTimer) Fire() {
	t.clock.lock.Lock()
	if t.stopped || t.fired {
		t.clock.lock.Unlock()
		return
	}
	t.fired = true
	f := t.f
	t.clock.lock.Unlock()
	f()
}

// Duration is the delay the timer was created with.
func (t *FakeTimer) Duration() time.Duration {
	return t.duration
}

// At is the clock time at which the timer is due.
func (t *FakeTimer) At() time.Time {
	return t.at
}
