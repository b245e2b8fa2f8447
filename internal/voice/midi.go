package voice

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/banshee-data/scenesynth/internal/timeutil"
)

// NoiseKey is the General MIDI percussion key the noise voice plays (hand
// clap).
const NoiseKey uint8 = 39

// defaultVelocity is used for triggers that carry no velocity.
const defaultVelocity uint8 = 100

type pendingOff struct {
	at      time.Time
	channel uint8
	key     uint8
}

// MIDISink writes triggers as raw MIDI bytes to w: a NoteOn immediately and
// a matching NoteOff once the trigger's duration has elapsed. Note-offs are
// emitted from Service, which the engine calls on its poll loop.
type MIDISink struct {
	mu      sync.Mutex
	w       io.Writer
	clock   timeutil.Clock
	bpm     func() float64
	pending []pendingOff
	sent    int
}

// NewMIDISink creates a sink writing to w. bpm reports the current tempo and
// is used to size note lengths.
func NewMIDISink(w io.Writer, clock timeutil.Clock, bpm func() float64) *MIDISink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if bpm == nil {
		bpm = func() float64 { return 120 }
	}
	return &MIDISink{w: w, clock: clock, bpm: bpm}
}

// KeyFor returns the MIDI key a trigger plays.
func KeyFor(t Trigger) uint8 {
	if t.Voice == Noise || !t.HasPitch {
		return NoiseKey
	}
	return t.Note.MIDI()
}

func velocityOf(t Trigger) uint8 {
	if t.Velocity == 0 {
		return defaultVelocity
	}
	if t.Velocity > 127 {
		return 127
	}
	return t.Velocity
}

// TriggerNote implements Sink.
func (s *MIDISink) TriggerNote(_ context.Context, t Trigger) error {
	if !t.Voice.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownVoice, int(t.Voice))
	}
	ch := t.Voice.Channel()
	key := KeyFor(t)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(midi.NoteOn(ch, key, velocityOf(t))); err != nil {
		return err
	}
	s.pending = append(s.pending, pendingOff{
		at:      now.Add(t.Duration.Length(s.bpm())),
		channel: ch,
		key:     key,
	})
	return nil
}

// Service emits NoteOffs whose time has come and returns how many were sent.
func (s *MIDISink) Service(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pending[:0]
	n := 0
	var firstErr error
	for _, p := range s.pending {
		if now.Before(p.at) {
			kept = append(kept, p)
			continue
		}
		if err := s.writeLocked(midi.NoteOff(p.channel, p.key)); err != nil && firstErr == nil {
			firstErr = err
		}
		n++
	}
	s.pending = kept
	return n, firstErr
}

// Run calls Service every interval until ctx is cancelled, then silences
// every channel.
func (s *MIDISink) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = s.AllNotesOff()
			return
		case now := <-ticker.C():
			_, _ = s.Service(now)
		}
	}
}

// ProgramChange selects a General MIDI program on a voice's channel.
func (s *MIDISink) ProgramChange(id ID, program uint8) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownVoice, int(id))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(midi.ProgramChange(id.Channel(), program))
}

// AllNotesOff releases pending notes and sends the all-notes-off controller
// on every voice channel.
func (s *MIDISink) AllNotesOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, p := range s.pending {
		if err := s.writeLocked(midi.NoteOff(p.channel, p.key)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.pending = nil
	for _, id := range All {
		if err := s.writeLocked(midi.ControlChange(id.Channel(), 123, 0)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sent returns the number of messages written.
func (s *MIDISink) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *MIDISink) writeLocked(msg midi.Message) error {
	if _, err := s.w.Write(msg.Bytes()); err != nil {
		return fmt.Errorf("write midi message %s: %w", msg, err)
	}
	s.sent++
	return nil
}
