package voice

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/banshee-data/scenesynth/internal/monitoring"
	"github.com/banshee-data/scenesynth/internal/timeutil"
)

// triggerHeap orders pending triggers by their scheduled time.
type triggerHeap []Trigger

func (h triggerHeap) Len() int            { return len(h) }
func (h triggerHeap) Less(i, j int) bool  { return h[i].At.Before(h[j].At) }
func (h triggerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *triggerHeap) Push(x interface{}) { *h = append(*h, x.(Trigger)) }
func (h *triggerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler is a lookahead dispatcher. The sequencer stamps each trigger
// with the audible time a little ahead of the clock tick; the scheduler holds
// it until that time and then hands it to the wrapped sink.
type Scheduler struct {
	out   Sink
	clock timeutil.Clock
	poll  time.Duration

	mu      sync.Mutex
	pending triggerHeap
	wake    chan struct{}
	errs    *monitoring.Throttle
}

// NewScheduler creates a scheduler delivering to out. poll is the dispatch
// granularity; zero means 5ms.
func NewScheduler(out Sink, clock timeutil.Clock, poll time.Duration) *Scheduler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if poll <= 0 {
		poll = 5 * time.Millisecond
	}
	return &Scheduler{
		out:   out,
		clock: clock,
		poll:  poll,
		wake:  make(chan struct{}, 1),
		errs:  monitoring.NewThrottle(5*time.Second, clock),
	}
}

// TriggerNote queues t for delivery at t.At. Triggers with a zero At are
// delivered on the next dispatch.
func (s *Scheduler) TriggerNote(_ context.Context, t Trigger) error {
	s.mu.Lock()
	heap.Push(&s.pending, t)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued triggers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// Dispatch delivers every trigger due at or before now and returns how many
// were sent.
func (s *Scheduler) Dispatch(ctx context.Context, now time.Time) int {
	var due []Trigger
	s.mu.Lock()
	for s.pending.Len() > 0 && !now.Before(s.pending[0].At) {
		due = append(due, heap.Pop(&s.pending).(Trigger))
	}
	s.mu.Unlock()

	for _, t := range due {
		if err := s.out.TriggerNote(ctx, t); err != nil {
			s.errs.Logf("dispatch", "voice scheduler: %s trigger failed: %v", t.Voice, err)
		}
	}
	return len(due)
}

// Flush delivers everything still queued regardless of time.
func (s *Scheduler) Flush(ctx context.Context) int {
	s.mu.Lock()
	var last time.Time
	for _, t := range s.pending {
		if t.At.After(last) {
			last = t.At
		}
	}
	s.mu.Unlock()
	return s.Dispatch(ctx, last)
}

// Run dispatches due triggers until ctx is cancelled, then flushes.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case now := <-ticker.C():
			s.Dispatch(ctx, now)
		case <-s.wake:
			s.Dispatch(ctx, s.clock.Now())
		}
	}
}
