package raft

import (
	"math/rand"
	"sync"
	"time"
)

// randDuration returns a uniformly distributed duration in [0, n). It
// mirrors pyraft/timer.py's use of random.uniform for election jitter;
// bernerdschaefer-raft's ElectionTimeout used rand.Intn the same way.
func randDuration(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(n)))
}

// Timer is a one-shot or repeating wake-up, per spec.md §4.1. Unlike
// pyraft/timer.py's Timer (safe by virtue of running on a single-threaded
// asyncio loop), this Timer guards its state with a mutex: Start, Stop,
// and Reset may be called from the Role Engine's event-loop goroutine
// while a pending fire is in flight on its own goroutine (time.AfterFunc).
type Timer struct {
	interval time.Duration
	repeat   bool

	mu     sync.Mutex
	active bool
	timer  *time.Timer
	ch     chan time.Time
}

// NewTimer builds a Timer with the given interval. If repeat is true, the
// timer re-arms itself with the same interval after every fire, until
// Stop is called (including from inside the fire itself).
func NewTimer(interval time.Duration, repeat bool) *Timer {
	return &Timer{
		interval: interval,
		repeat:   repeat,
		ch:       make(chan time.Time, 1),
	}
}

// C returns the channel a fire is delivered on. A single Timer value
// always returns the same channel.
func (t *Timer) C() <-chan time.Time {
	return t.ch
}

// Start schedules the first fire at now+interval. Calling Start on an
// already-running Timer is undefined; callers never do so (spec.md §4.1).
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true
	t.arm()
}

// arm must be called with t.mu held.
func (t *Timer) arm() {
	t.timer = time.AfterFunc(t.interval, t.fire)
}

func (t *Timer) fire() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	if t.repeat {
		t.arm()
	} else {
		t.active = false
	}
	t.mu.Unlock()

	select {
	case t.ch <- time.Now():
	default:
		// Previous fire not yet drained; a fresh one is already pending.
	}
}

// Stop cancels any pending fire. Safe if the timer was never started.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Reset is equivalent to Stop(); Start().
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.active = true
	t.arm()
}

// ResetTo rearms the timer with a new interval, for callers like the
// election timeout that must draw a fresh randomised duration on every
// restart rather than reuse the one passed to NewTimer.
func (t *Timer) ResetTo(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.interval = interval
	t.active = true
	t.arm()
}
