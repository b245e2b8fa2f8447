// Package theory provides the scale and chord arithmetic the sequencer uses to
// turn grid activity into pitched notes.
package theory

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTheoryParameter is returned for unknown note, scale or chord
// names and for out-of-range octaves.
var ErrInvalidTheoryParameter = errors.New("invalid theory parameter")

// NoteName is one of the twelve pitch classes, spelled with sharps.
type NoteName string

// Notes is the pitch-class alphabet in chromatic order starting at C.
var Notes = []NoteName{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// ScaleName identifies an interval set.
type ScaleName string

const (
	Major      ScaleName = "major"
	Minor      ScaleName = "minor"
	Dorian     ScaleName = "dorian"
	Lydian     ScaleName = "lydian"
	Phrygian   ScaleName = "phrygian"
	Pentatonic ScaleName = "pentatonic"
	Chromatic  ScaleName = "chromatic"
)

// Scales maps scale names to ascending semitone offsets from the root.
var Scales = map[ScaleName][]int{
	Major:      {0, 2, 4, 5, 7, 9, 11},
	Minor:      {0, 2, 3, 5, 7, 8, 10},
	Dorian:     {0, 2, 3, 5, 7, 9, 10},
	Lydian:     {0, 2, 4, 6, 7, 9, 11},
	Phrygian:   {0, 1, 3, 5, 7, 8, 10},
	Pentatonic: {0, 2, 4, 7, 9},
	Chromatic:  {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
}

// ScaleNames lists the scales in display order.
var ScaleNames = []ScaleName{Major, Minor, Dorian, Lydian, Phrygian, Pentatonic, Chromatic}

// ChordType identifies a chord quality.
type ChordType string

// Chords maps chord types to semitone sets above the chord root.
var Chords = map[ChordType][]int{
	"major": {0, 4, 7},
	"minor": {0, 3, 7},
	"dim":   {0, 3, 6},
	"aug":   {0, 4, 8},
	"maj7":  {0, 4, 7, 11},
	"min7":  {0, 3, 7, 10},
	"dom7":  {0, 4, 7, 10},
}

// MinOctave and MaxOctave bound the octaves a Note may carry; the range keeps
// every note inside the MIDI key space.
const (
	MinOctave = -1
	MaxOctave = 9
)

// NoteIndex returns the chromatic index of a pitch class.
func NoteIndex(n NoteName) (int, error) {
	for i, name := range Notes {
		if name == n {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown note %q", ErrInvalidTheoryParameter, n)
}

// ValidScale reports whether name is a known scale.
func ValidScale(name ScaleName) bool {
	_, ok := Scales[name]
	return ok
}

// ScaleNotes returns the pitch classes of scale starting at root.
func ScaleNotes(root NoteName, scale ScaleName) ([]NoteName, error) {
	rootIdx, err := NoteIndex(root)
	if err != nil {
		return nil, err
	}
	intervals, ok := Scales[scale]
	if !ok {
		return nil, fmt.Errorf("%w: unknown scale %q", ErrInvalidTheoryParameter, scale)
	}
	out := make([]NoteName, len(intervals))
	for i, iv := range intervals {
		out[i] = Notes[(rootIdx+iv)%12]
	}
	return out, nil
}

// Quantize maps a pitch class index (reduced modulo 12) to the nearest
// interval of scale. On a tie the interval listed first wins, so the result
// is always a member of the scale and members map to themselves.
func Quantize(pitchIndex int, scale ScaleName) (int, error) {
	intervals, ok := Scales[scale]
	if !ok {
		return 0, fmt.Errorf("%w: unknown scale %q", ErrInvalidTheoryParameter, scale)
	}
	p := ((pitchIndex % 12) + 12) % 12
	best := intervals[0]
	bestDist := abs(p - best)
	for _, iv := range intervals[1:] {
		if d := abs(p - iv); d < bestDist {
			best, bestDist = iv, d
		}
	}
	return best, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Note is a pitch class at an octave.
type Note struct {
	Name   NoteName
	Octave int
}

// String formats the note in scientific pitch notation, e.g. "C#4".
func (n Note) String() string {
	return string(n.Name) + strconv.Itoa(n.Octave)
}

// MIDI returns the MIDI key number with C4 = 60, clamped to 0..127.
func (n Note) MIDI() uint8 {
	idx, err := NoteIndex(n.Name)
	if err != nil {
		return 0
	}
	k := (n.Octave+1)*12 + idx
	switch {
	case k < 0:
		return 0
	case k > 127:
		return 127
	}
	return uint8(k)
}

// ParseNote parses scientific pitch notation such as "A4" or "F#-1".
func ParseNote(s string) (Note, error) {
	s = strings.TrimSpace(s)
	split := 1
	if len(s) > 1 && s[1] == '#' {
		split = 2
	}
	if len(s) <= split {
		return Note{}, fmt.Errorf("%w: malformed note %q", ErrInvalidTheoryParameter, s)
	}
	name := NoteName(strings.ToUpper(s[:1]) + s[1:split])
	if _, err := NoteIndex(name); err != nil {
		return Note{}, err
	}
	oct, err := strconv.Atoi(s[split:])
	if err != nil {
		return Note{}, fmt.Errorf("%w: malformed octave in %q", ErrInvalidTheoryParameter, s)
	}
	if oct < MinOctave || oct > MaxOctave {
		return Note{}, fmt.Errorf("%w: octave %d out of range", ErrInvalidTheoryParameter, oct)
	}
	return Note{Name: name, Octave: oct}, nil
}

// ChordTones returns the semitone offsets of a chord quality.
func ChordTones(t ChordType) ([]int, error) {
	tones, ok := Chords[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown chord type %q", ErrInvalidTheoryParameter, t)
	}
	out := make([]int, len(tones))
	copy(out, tones)
	return out, nil
}
