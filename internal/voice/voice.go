// Package voice defines the four instrument voices the sequencer drives and
// the sinks that turn triggers into sound: MIDI streams, serial DIN ports,
// Standard MIDI Files and the score journal.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/scenesynth/internal/theory"
)

// ErrUnknownVoice is returned when a voice name or ID is not one of the four
// enumerated voices.
var ErrUnknownVoice = errors.New("unknown voice")

// ID enumerates the voices. The set is fixed at build time.
type ID int

const (
	Lead ID = iota
	Pad
	Bass
	Noise
)

// All lists every voice in table order.
var All = []ID{Lead, Pad, Bass, Noise}

var names = [...]string{"lead", "pad", "bass", "noise"}

// String returns the lower-case voice name.
func (id ID) String() string {
	if id < 0 || int(id) >= len(names) {
		return fmt.Sprintf("voice(%d)", int(id))
	}
	return names[id]
}

// Valid reports whether id is one of the enumerated voices.
func (id ID) Valid() bool {
	return id >= Lead && id <= Noise
}

// ParseID maps a voice name to its ID.
func ParseID(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVoice, s)
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVoice, int(id))
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	v, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Channel is the zero-based MIDI channel each voice plays on. Noise uses the
// General MIDI percussion channel.
func (id ID) Channel() uint8 {
	switch id {
	case Lead:
		return 0
	case Pad:
		return 1
	case Bass:
		return 2
	}
	return 9
}

// Duration is a note length token relative to the beat.
type Duration string

const (
	Sixteenth Duration = "16n"
	Eighth    Duration = "8n"
	Quarter   Duration = "4n"
)

// Beats returns the token's length in quarter-note beats.
func (d Duration) Beats() float64 {
	switch d {
	case Sixteenth:
		return 0.25
	case Eighth:
		return 0.5
	case Quarter:
		return 1
	}
	return 0.25
}

// Length returns the wall-clock length of the token at bpm.
func (d Duration) Length(bpm float64) time.Duration {
	if bpm <= 0 {
		return 0
	}
	return time.Duration(d.Beats() * 60 / bpm * float64(time.Second))
}

// Trigger is one note request. Noise triggers carry no pitch.
type Trigger struct {
	Voice    ID          `json:"voice"`
	Note     theory.Note `json:"note"`
	HasPitch bool        `json:"has_pitch"`
	Duration Duration    `json:"duration"`
	At       time.Time   `json:"at"`
	Step     int         `json:"step"`
	Velocity uint8       `json:"velocity"`
}

// Sink receives triggers. Implementations must not block for long; the
// sequencer calls TriggerNote from its clock callback.
type Sink interface {
	TriggerNote(ctx context.Context, t Trigger) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, t Trigger) error

// TriggerNote calls f.
func (f SinkFunc) TriggerNote(ctx context.Context, t Trigger) error { return f(ctx, t) }

// MultiSink fans a trigger out to every sink. All sinks are called; the
// returned error joins their failures.
type MultiSink []Sink

// TriggerNote implements Sink.
func (m MultiSink) TriggerNote(ctx context.Context, t Trigger) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.TriggerNote(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Counter is a Sink that counts triggers per voice and keeps the most recent
// ones.
type Counter struct {
	mu     sync.Mutex
	counts [len(names)]int
	recent []Trigger
	keep   int
}

// NewCounter creates a Counter that remembers the last keep triggers.
func NewCounter(keep int) *Counter {
	return &Counter{keep: keep}
}

// TriggerNote implements Sink.
func (c *Counter) TriggerNote(_ context.Context, t Trigger) error {
	if !t.Voice.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownVoice, int(t.Voice))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[t.Voice]++
	if c.keep > 0 {
		c.recent = append(c.recent, t)
		if len(c.recent) > c.keep {
			c.recent = c.recent[len(c.recent)-c.keep:]
		}
	}
	return nil
}

// Count returns how many triggers id has received.
func (c *Counter) Count(id ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !id.Valid() {
		return 0
	}
	return c.counts[id]
}

// Total returns the number of triggers across all voices.
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

// Recent returns a copy of the retained triggers, oldest first.
func (c *Counter) Recent() []Trigger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Trigger(nil), c.recent...)
}
