package sequencer

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scenesynth/internal/timeutil"
)

// Tempo bounds accepted by SetBPM.
const (
	MinBPM     = 20.0
	MaxBPM     = 300.0
	DefaultBPM = 120.0
)

// TicksPerBeat is the transport resolution: one tick per sixteenth note.
const TicksPerBeat = 4

// Tick is delivered to subscribers once per sixteenth note.
type Tick struct {
	Index    uint64
	Time     time.Time // audible time: the clock reading plus the lookahead
	Interval time.Duration
}

// TickFunc receives transport ticks. It runs on the transport goroutine and
// is never called concurrently with itself.
type TickFunc func(Tick)

type subscriber struct {
	id string
	fn TickFunc
}

// Transport is the shared musical clock. It runs only while it has been
// started and has at least one subscriber; removing the last subscriber
// stops it.
type Transport struct {
	clock timeutil.Clock

	mu        sync.Mutex
	bpm       float64
	lookahead time.Duration
	subs      []subscriber
	started   bool
	quit      chan struct{}
	done      chan struct{}
	index     uint64

	// dispatchMu is held while callbacks run so Unsubscribe can wait out an
	// in-flight callback.
	dispatchMu sync.Mutex
}

// NewTransport creates a stopped transport. A nil clock uses the real clock.
func NewTransport(clock timeutil.Clock, bpm float64, lookahead time.Duration) *Transport {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if lookahead < 0 {
		lookahead = 0
	}
	return &Transport{clock: clock, bpm: ClampBPM(bpm), lookahead: lookahead}
}

// ClampBPM limits bpm to [MinBPM, MaxBPM]; NaN or non-positive values map to
// the default.
func ClampBPM(bpm float64) float64 {
	if math.IsNaN(bpm) || bpm <= 0 {
		return DefaultBPM
	}
	return math.Max(MinBPM, math.Min(MaxBPM, bpm))
}

// IntervalFor returns the tick period at bpm.
func IntervalFor(bpm float64) time.Duration {
	return time.Duration(60 / ClampBPM(bpm) / TicksPerBeat * float64(time.Second))
}

// BPM returns the current tempo.
func (t *Transport) BPM() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bpm
}

// SetBPM changes the tempo. The new period applies from the next tick.
func (t *Transport) SetBPM(bpm float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bpm = ClampBPM(bpm)
	return t.bpm
}

// Lookahead returns the scheduling lookahead.
func (t *Transport) Lookahead() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookahead
}

// Subscribe registers fn and returns its id. If the transport was started
// and this is the first subscriber, the clock begins ticking.
func (t *Transport) Subscribe(fn TickFunc) string {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, subscriber{id: id, fn: fn})
	if t.started && t.quit == nil {
		t.startLocked()
	}
	return id
}

// Unsubscribe removes a subscriber. It returns after any callback in flight
// has finished, so the caller sees no further calls once it returns. It must
// not be called from inside a TickFunc.
func (t *Transport) Unsubscribe(id string) {
	t.mu.Lock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			break
		}
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()

	t.dispatchMu.Lock()
	t.dispatchMu.Unlock() //nolint:staticcheck // barrier: wait out an in-flight callback

	if empty {
		t.halt()
	}
}

// Subscribers returns the number of registered subscribers.
func (t *Transport) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Start starts the clock. Repeated calls are no-ops. With no subscribers
// the transport is armed and begins ticking on the first Subscribe.
func (t *Transport) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	if len(t.subs) > 0 && t.quit == nil {
		t.startLocked()
	}
}

// Stop halts the clock and disarms it. Repeated calls are no-ops.
func (t *Transport) Stop() {
	t.mu.Lock()
	t.started = false
	t.mu.Unlock()
	t.halt()
}

// Running reports whether the clock goroutine is active.
func (t *Transport) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quit != nil
}

func (t *Transport) startLocked() {
	t.quit = make(chan struct{})
	t.done = make(chan struct{})
	interval := IntervalFor(t.bpm)
	ticker := t.clock.NewTicker(interval)
	go t.loop(ticker, interval, t.quit, t.done)
}

func (t *Transport) halt() {
	t.mu.Lock()
	quit, done := t.quit, t.done
	t.quit, t.done = nil, nil
	t.mu.Unlock()
	if quit == nil {
		return
	}
	close(quit)
	<-done
}

func (t *Transport) loop(ticker timeutil.Ticker, interval time.Duration, quit, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case now := <-ticker.C():
			t.dispatchMu.Lock()
			t.mu.Lock()
			select {
			case <-quit:
				t.mu.Unlock()
				t.dispatchMu.Unlock()
				return
			default:
			}
			subs := append([]subscriber(nil), t.subs...)
			tick := Tick{Index: t.index, Time: now.Add(t.lookahead), Interval: interval}
			t.index++
			next := IntervalFor(t.bpm)
			t.mu.Unlock()

			// A tempo change re-arms the ticker from this tick onward.
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
			for _, s := range subs {
				s.fn(tick)
			}
			t.dispatchMu.Unlock()
		}
	}
}
