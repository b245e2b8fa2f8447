package monitoring

import (
	"sync"
	"time"

	"github.com/banshee-data/scenesynth/internal/timeutil"
)

// Throttle emits a notice for a key at most once per interval and reports
// how many occurrences were suppressed in between. The render loop and the
// sequencer use it for best-effort failures that can repeat every cycle
// (source not ready, sink write errors).
type Throttle struct {
	mu         sync.Mutex
	clock      timeutil.Clock
	interval   time.Duration
	last       map[string]time.Time
	suppressed map[string]int
}

// NewThrottle creates a Throttle. A nil clock uses the real clock.
func NewThrottle(interval time.Duration, clock timeutil.Clock) *Throttle {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Throttle{
		clock:      clock,
		interval:   interval,
		last:       make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
}

// Allow reports whether a notice for key may be logged now. When it returns
// true, the second result is the number of notices dropped since the last
// allowed one.
func (t *Throttle) Allow(key string) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		t.suppressed[key]++
		return false, 0
	}
	dropped := t.suppressed[key]
	t.suppressed[key] = 0
	t.last[key] = now
	return true, dropped
}

// Logf logs through the package logger when key is not throttled.
func (t *Throttle) Logf(key, format string, v ...interface{}) {
	ok, dropped := t.Allow(key)
	if !ok {
		return
	}
	if dropped > 0 {
		Logf(format+" (%d similar suppressed)", append(v, dropped)...)
		return
	}
	Logf(format, v...)
}
