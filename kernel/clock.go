package kernel

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending AfterFunc callback.
type Timer interface {
	Stop() bool
}

// Clock is the timebase used for busy timeouts and retry timers.
//
// Micros wraps around like a 32-bit hardware counter; compare readings with Elapsed.
type Clock interface {
	Micros() uint32
	AfterFunc(d time.Duration, f func()) Timer
}

// Elapsed returns the time between two Micros readings, tolerating one wrap.
func Elapsed(start, now uint32) time.Duration {
	return time.Duration(now-start) * time.Microsecond
}

// Monotonic is a Clock backed by the runtime monotonic clock.
type Monotonic struct {
	start time.Time
}

// NewMonotonic returns a clock whose Micros starts at zero now.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

func (c *Monotonic) Micros() uint32 {
	return uint32(time.Since(c.start) / time.Microsecond)
}

func (c *Monotonic) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock is a Clock that only moves when told to.
//
// Each Micros call advances time by step, so a busy loop polling the clock terminates
// without real sleeping. Timers fire from Advance, on the caller's goroutine.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Duration
	step   time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	c    *ManualClock
	when time.Duration
	f    func()
}

// NewManualClock returns a manual clock advancing by step per Micros call.
func NewManualClock(step time.Duration) *ManualClock {
	return &ManualClock{step: step}
}

func (c *ManualClock) Micros() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now += c.step
	return uint32(now / time.Microsecond)
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{c: c, when: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the number of armed timers.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves time forward and runs the timers that became due, earliest first.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	keep := c.timers[:0]
	for _, t := range c.timers {
		if t.when <= c.now {
			due = append(due, t)
			continue
		}
		keep = append(keep, t)
	}
	c.timers = keep
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].when < due[j].when })
	for _, t := range due {
		t.f()
	}
}

func (t *manualTimer) Stop() bool {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}
