// Package timeutil abstracts wall-clock time so the render loop, the musical
// transport and the lookahead scheduler can be driven deterministically in
// tests.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock provides the time operations used by the real-time loops.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Until(t time.Time) time.Duration
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time

	// NewTimer creates a Timer that delivers the time once after d.
	NewTimer(d time.Duration) Timer

	// NewTicker creates a Ticker delivering the time every d.
	NewTicker(d time.Duration) Ticker
}

// Timer represents a single event timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Ticker delivers ticks at a fixed interval. Like time.Ticker, ticks that
// the receiver is too slow to take are dropped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) Until(t time.Time) time.Duration        { return time.Until(t) }
func (RealClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewTimer creates a new Timer.
func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

// NewTicker creates a new Ticker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) C() <-chan time.Time        { return t.timer.C }
func (t *realTimer) Stop() bool                 { return t.timer.Stop() }
func (t *realTimer) Reset(d time.Duration) bool { return t.timer.Reset(d) }

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time   { return t.ticker.C }
func (t *realTicker) Stop()                 { t.ticker.Stop() }
func (t *realTicker) Reset(d time.Duration) { t.ticker.Reset(d) }

// MockClock is a manually advanced clock. Timers and tickers created from it
// fire only from Advance.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	waiters []*mockWaiter
	created chan struct{}
}

// NewMockClock creates a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t, created: make(chan struct{}, 64)}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d. Every deadline crossed on the way is
// fired in time order, so a ticker passed several times sends once per
// crossing (subject to its single-slot buffer, as with time.Ticker).
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		w := c.nextDueLocked(target)
		if w == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		at := w.deadlineSnapshot()
		if at.After(c.now) {
			c.now = at
		}
		c.mu.Unlock()
		w.fire(at)
	}
}

// nextDueLocked returns the active waiter with the earliest deadline at or
// before target, pruning stopped one-shot timers.
func (c *MockClock) nextDueLocked(target time.Time) *mockWaiter {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.done() {
			live = append(live, w)
		}
	}
	c.waiters = live
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadlineSnapshot().Before(c.waiters[j].deadlineSnapshot())
	})
	for _, w := range c.waiters {
		if w.due(target) {
			return w
		}
	}
	return nil
}

// BlockUntilWaiters blocks until at least n timers or tickers have been
// created since the clock was built. Tests use it to avoid advancing before
// a goroutine has armed its ticker.
func (c *MockClock) BlockUntilWaiters(n int) {
	for i := 0; i < n; i++ {
		<-c.created
	}
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Until returns the duration until t.
func (c *MockClock) Until(t time.Time) time.Duration { return t.Sub(c.Now()) }

// Sleep records d and returns immediately.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// After returns a channel that receives the time after d.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C()
}

// NewTimer creates a one-shot mock timer.
func (c *MockClock) NewTimer(d time.Duration) Timer {
	return c.add(d, false)
}

// NewTicker creates a repeating mock ticker.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	return mockTicker{c.add(d, true)}
}

func (c *MockClock) add(d time.Duration, repeat bool) *mockWaiter {
	c.mu.Lock()
	w := &mockWaiter{
		clock:    c,
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
		interval: d,
		repeat:   repeat,
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	select {
	case c.created <- struct{}{}:
	default:
	}
	return w
}

// mockWaiter backs both mock timers and mock tickers.
type mockWaiter struct {
	clock    *MockClock
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	interval time.Duration
	repeat   bool
	stopped  bool
	fired    bool
}

// C returns the delivery channel.
func (w *mockWaiter) C() <-chan time.Time { return w.ch }

// Stop disarms the waiter. For timers it reports whether it was still
// pending; the Ticker form discards the result.
func (w *mockWaiter) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	active := !w.stopped && !w.fired
	w.stopped = true
	return active
}

// Reset re-arms the waiter to fire d after the clock's current time.
func (w *mockWaiter) Reset(d time.Duration) bool {
	now := w.clock.Now()
	w.mu.Lock()
	active := !w.stopped && !w.fired
	w.stopped = false
	w.fired = false
	w.interval = d
	w.deadline = now.Add(d)
	w.mu.Unlock()

	w.clock.mu.Lock()
	found := false
	for _, x := range w.clock.waiters {
		if x == w {
			found = true
			break
		}
	}
	if !found {
		w.clock.waiters = append(w.clock.waiters, w)
	}
	w.clock.mu.Unlock()
	return active
}

// Trigger sends a tick immediately, independent of the clock.
func (w *mockWaiter) Trigger(now time.Time) {
	select {
	case w.ch <- now:
	default:
	}
}

func (w *mockWaiter) done() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped || (!w.repeat && w.fired)
}

func (w *mockWaiter) deadlineSnapshot() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline
}

func (w *mockWaiter) due(target time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || (!w.repeat && w.fired) {
		return false
	}
	return !w.deadline.After(target)
}

func (w *mockWaiter) fire(at time.Time) {
	w.mu.Lock()
	if w.repeat {
		w.deadline = at.Add(w.interval)
	} else {
		w.fired = true
	}
	w.mu.Unlock()
	select {
	case w.ch <- at:
	default:
	}
}

// mockTicker adapts mockWaiter to the Ticker interface.
type mockTicker struct{ *mockWaiter }

func (t mockTicker) Stop()                 { t.mockWaiter.Stop() }
func (t mockTicker) Reset(d time.Duration) { t.mockWaiter.Reset(d) }
