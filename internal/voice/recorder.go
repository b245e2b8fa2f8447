package voice

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// TicksPerQuarter is the SMF time resolution the recorder writes.
const TicksPerQuarter = 960

type recordedNote struct {
	start uint32
	end   uint32
	key   uint8
	vel   uint8
}

// Recorder captures triggers into a Standard MIDI File: a tempo track
// followed by one track per voice. Trigger times are converted to ticks
// relative to the recording origin at the recorder's tempo.
type Recorder struct {
	mu     sync.Mutex
	bpm    float64
	origin time.Time
	notes  map[ID][]recordedNote
}

// NewRecorder creates a recorder at bpm whose tick zero is origin. A zero
// origin is replaced by the first trigger's time.
func NewRecorder(bpm float64, origin time.Time) *Recorder {
	if bpm <= 0 {
		bpm = 120
	}
	return &Recorder{bpm: bpm, origin: origin, notes: make(map[ID][]recordedNote)}
}

func (r *Recorder) ticksFor(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	beats := d.Seconds() * r.bpm / 60
	return uint32(beats*TicksPerQuarter + 0.5)
}

// TriggerNote implements Sink.
func (r *Recorder) TriggerNote(_ context.Context, t Trigger) error {
	if !t.Voice.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownVoice, int(t.Voice))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.origin.IsZero() {
		r.origin = t.At
	}
	start := r.ticksFor(t.At.Sub(r.origin))
	length := uint32(t.Duration.Beats() * TicksPerQuarter)
	r.notes[t.Voice] = append(r.notes[t.Voice], recordedNote{
		start: start,
		end:   start + length,
		key:   KeyFor(t),
		vel:   velocityOf(t),
	})
	return nil
}

// Len returns the number of recorded notes.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ns := range r.notes {
		n += len(ns)
	}
	return n
}

type timedMessage struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// SMF builds the Standard MIDI File for everything recorded so far.
func (r *Recorder) SMF() (*smf.SMF, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerQuarter)

	var tempo smf.Track
	tempo.Add(0, smf.MetaMeter(4, 4))
	tempo.Add(0, smf.MetaTempo(r.bpm))
	tempo.Close(0)
	if err := s.Add(tempo); err != nil {
		return nil, fmt.Errorf("add tempo track: %w", err)
	}

	for _, id := range All {
		var events []timedMessage
		for _, n := range r.notes[id] {
			events = append(events,
				timedMessage{tick: n.start, msg: midi.NoteOn(id.Channel(), n.key, n.vel)},
				timedMessage{tick: n.end, off: true, msg: midi.NoteOff(id.Channel(), n.key)},
			)
		}
		// NoteOffs sort before NoteOns on the same tick so a repeated key
		// re-strikes instead of being cut short.
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].tick != events[j].tick {
				return events[i].tick < events[j].tick
			}
			return events[i].off && !events[j].off
		})

		var track smf.Track
		track.Add(0, smf.MetaTrackSequenceName(id.String()))
		var last uint32
		for _, ev := range events {
			track.Add(ev.tick-last, ev.msg)
			last = ev.tick
		}
		track.Close(0)
		if err := s.Add(track); err != nil {
			return nil, fmt.Errorf("add %s track: %w", id, err)
		}
	}
	return s, nil
}

// WriteTo writes the recording as an SMF to w.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	s, err := r.SMF()
	if err != nil {
		return 0, err
	}
	return s.WriteTo(w)
}

// WriteFile writes the recording to path.
func (r *Recorder) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create midi file: %w", err)
	}
	if _, err := r.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write midi file: %w", err)
	}
	return f.Close()
}
