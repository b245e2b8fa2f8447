package compositor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scenesynth/internal/timeutil"
)

// DisplayRate is the refresh rate the render loop polls at when none is given.
const DisplayRate = 60.0

// Loop drives Render from a display-rate ticker. With a target FPS below the
// display rate, ticks that arrive before a full frame interval has elapsed
// are dropped, never queued, so a slow frame cannot cause a burst later.
type Loop struct {
	clock    timeutil.Clock
	period   time.Duration
	interval time.Duration
	render   func(now time.Time)

	last     time.Time
	rendered atomic.Uint64
	dropped  atomic.Uint64
}

// NewLoop creates a loop ticking at displayHz and rendering at most
// targetFPS frames per second. targetFPS <= 0 renders on every tick.
func NewLoop(clock timeutil.Clock, displayHz, targetFPS float64, render func(now time.Time)) *Loop {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if displayHz <= 0 {
		displayHz = DisplayRate
	}
	l := &Loop{
		clock:  clock,
		period: time.Duration(float64(time.Second) / displayHz),
		render: render,
	}
	if targetFPS > 0 && targetFPS < displayHz {
		l.interval = time.Duration(float64(time.Second) / targetFPS)
	}
	return l
}

// Run ticks until ctx is done. Each accepted tick renders synchronously; the
// next tick is not read until the frame is finished.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.period)
	defer ticker.Stop()
	diagf("render loop started: period %v, frame interval %v", l.period, l.interval)
	for {
		select {
		case <-ctx.Done():
			r, d := l.Stats()
			diagf("render loop stopped: %d rendered, %d dropped", r, d)
			return nil
		case now := <-ticker.C():
			if l.Accept(now) {
				l.render(now)
			}
		}
	}
}

// Accept applies the frame-interval accounting to a tick at now and reports
// whether a frame should render. It is not safe for concurrent use.
func (l *Loop) Accept(now time.Time) bool {
	if l.interval <= 0 {
		l.rendered.Add(1)
		return true
	}
	if !l.last.IsZero() {
		elapsed := now.Sub(l.last)
		if elapsed < l.interval {
			l.dropped.Add(1)
			return false
		}
		// Keep the remainder so the cadence does not drift.
		l.last = now.Add(-(elapsed % l.interval))
	} else {
		l.last = now
	}
	l.rendered.Add(1)
	return true
}

// Stats returns the number of rendered and dropped ticks.
func (l *Loop) Stats() (rendered, dropped uint64) {
	return l.rendered.Load(), l.dropped.Load()
}
