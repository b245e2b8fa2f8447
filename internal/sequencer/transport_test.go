package sequencer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scenesynth/internal/timeutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func waitTick(t *testing.T, ch <-chan Tick) Tick {
	t.Helper()
	select {
	case tk := <-ch:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	return Tick{}
}

func assertNoTick(t *testing.T, ch <-chan Tick) {
	t.Helper()
	select {
	case tk := <-ch:
		t.Fatalf("unexpected tick %d", tk.Index)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClampBPM(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{120, 120},
		{5, MinBPM},
		{1000, MaxBPM},
		{0, DefaultBPM},
		{-3, DefaultBPM},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampBPM(tt.in), "ClampBPM(%v)", tt.in)
	}
}

func TestIntervalFor(t *testing.T) {
	assert.Equal(t, 125*time.Millisecond, IntervalFor(120))
	assert.Equal(t, 250*time.Millisecond, IntervalFor(60))
	assert.Equal(t, 50*time.Millisecond, IntervalFor(300))
	assert.Equal(t, IntervalFor(MaxBPM), IntervalFor(900), "tempo is clamped before the period is derived")
}

func TestTransport_TicksAtSixteenthPeriod(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := NewTransport(clock, 120, 100*time.Millisecond)

	ticks := make(chan Tick, 8)
	tr.Subscribe(func(tk Tick) { ticks <- tk })
	assert.False(t, tr.Running(), "subscribing alone does not start the clock")

	tr.Start()
	defer tr.Stop()
	clock.BlockUntilWaiters(1)
	require.True(t, tr.Running())

	clock.Advance(124 * time.Millisecond)
	assertNoTick(t, ticks)

	clock.Advance(time.Millisecond)
	tk := waitTick(t, ticks)
	assert.Equal(t, uint64(0), tk.Index)
	assert.Equal(t, 125*time.Millisecond, tk.Interval)
	assert.Equal(t, epoch.Add(225*time.Millisecond), tk.Time, "audible time includes the lookahead")

	clock.Advance(125 * time.Millisecond)
	tk = waitTick(t, ticks)
	assert.Equal(t, uint64(1), tk.Index)
	assert.Equal(t, epoch.Add(350*time.Millisecond), tk.Time)
}

func TestTransport_SetBPMAppliesFromNextTick(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := NewTransport(clock, 120, 0)

	ticks := make(chan Tick, 8)
	tr.Subscribe(func(tk Tick) { ticks <- tk })
	tr.Start()
	defer tr.Stop()
	clock.BlockUntilWaiters(1)

	assert.Equal(t, 240.0, tr.SetBPM(240))
	assert.Equal(t, 240.0, tr.BPM())

	clock.Advance(125 * time.Millisecond)
	first := waitTick(t, ticks)
	assert.Equal(t, 125*time.Millisecond, first.Interval, "the tick in progress keeps the old period")

	clock.Advance(62500 * time.Microsecond)
	second := waitTick(t, ticks)
	assert.Equal(t, 62500*time.Microsecond, second.Interval)
	assert.Equal(t, first.Time.Add(62500*time.Microsecond), second.Time)
}

func TestTransport_LastUnsubscribeHalts(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := NewTransport(clock, 120, 0)

	a := make(chan Tick, 8)
	b := make(chan Tick, 8)
	idA := tr.Subscribe(func(tk Tick) { a <- tk })
	idB := tr.Subscribe(func(tk Tick) { b <- tk })
	assert.NotEqual(t, idA, idB)
	assert.Equal(t, 2, tr.Subscribers())

	tr.Start()
	clock.BlockUntilWaiters(1)
	clock.Advance(125 * time.Millisecond)
	waitTick(t, a)
	waitTick(t, b)

	tr.Unsubscribe(idA)
	assert.True(t, tr.Running(), "one subscriber remains")
	clock.Advance(125 * time.Millisecond)
	waitTick(t, b)
	assertNoTick(t, a)

	tr.Unsubscribe(idB)
	assert.False(t, tr.Running())
	assert.Equal(t, 0, tr.Subscribers())

	clock.Advance(time.Second)
	assertNoTick(t, b)

	// Still armed: a new subscriber restarts the clock.
	c := make(chan Tick, 8)
	tr.Subscribe(func(tk Tick) { c <- tk })
	defer tr.Stop()
	assert.True(t, tr.Running())
	clock.BlockUntilWaiters(1)
	clock.Advance(125 * time.Millisecond)
	waitTick(t, c)
}

func TestTransport_StopIsIdempotent(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	tr := NewTransport(clock, 120, 0)
	tr.Subscribe(func(Tick) {})
	tr.Start()
	tr.Start()
	clock.BlockUntilWaiters(1)

	tr.Stop()
	tr.Stop()
	assert.False(t, tr.Running())

	tr.Subscribe(func(Tick) {})
	assert.False(t, tr.Running(), "a stopped transport stays stopped on subscribe")
}

func TestSubscribe_IDs(t *testing.T) {
	tr := NewTransport(timeutil.NewMockClock(epoch), DefaultBPM, 0)
	a := tr.Subscribe(func(Tick) {})
	b := tr.Subscribe(func(Tick) {})
	assert.NotEqual(t, a, b)
	for _, id := range []string{a, b} {
		_, err := uuid.Parse(id)
		assert.NoError(t, err, "subscription id %q", id)
	}
	tr.Unsubscribe(a)
	tr.Unsubscribe(b)
}
