package theory

import (
	"fmt"
	"math/rand"
	"sync"
)

// State is the quantizer's externally configurable state.
type State struct {
	Root       NoteName  `json:"root"`
	Scale      ScaleName `json:"scale"`
	OctaveBase int       `json:"octave_base"`
}

// DefaultState is C minor with chords voiced from octave 3.
func DefaultState() State {
	return State{Root: "C", Scale: Minor, OctaveBase: 3}
}

// Quantizer produces scale-constrained notes. Setters validate and leave the
// prior state untouched on error; readers take a consistent snapshot, so a
// trigger never sees a half-applied change.
type Quantizer struct {
	mu    sync.RWMutex
	state State
	notes []NoteName

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewQuantizer creates a Quantizer in the given state. A nil rng is seeded
// with 1 so runs are reproducible unless the caller supplies its own source.
func NewQuantizer(st State, rng *rand.Rand) (*Quantizer, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if err := validateOctave(st.OctaveBase); err != nil {
		return nil, err
	}
	notes, err := ScaleNotes(st.Root, st.Scale)
	if err != nil {
		return nil, err
	}
	return &Quantizer{state: st, notes: notes, rng: rng}, nil
}

func validateOctave(o int) error {
	if o < MinOctave || o > MaxOctave {
		return fmt.Errorf("%w: octave %d out of range [%d, %d]", ErrInvalidTheoryParameter, o, MinOctave, MaxOctave)
	}
	return nil
}

// State returns a snapshot of the current state.
func (q *Quantizer) State() State {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

// ScaleNotes returns the notes of the current scale.
func (q *Quantizer) ScaleNotes() []NoteName {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]NoteName, len(q.notes))
	copy(out, q.notes)
	return out
}

// SetRoot changes the root note.
func (q *Quantizer) SetRoot(root NoteName) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	notes, err := ScaleNotes(root, q.state.Scale)
	if err != nil {
		return err
	}
	q.state.Root = root
	q.notes = notes
	return nil
}

// SetScale changes the scale.
func (q *Quantizer) SetScale(scale ScaleName) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	notes, err := ScaleNotes(q.state.Root, scale)
	if err != nil {
		return err
	}
	q.state.Scale = scale
	q.notes = notes
	return nil
}

// SetOctaveBase changes the octave chords are voiced from.
func (q *Quantizer) SetOctaveBase(octave int) error {
	if err := validateOctave(octave); err != nil {
		return err
	}
	q.mu.Lock()
	q.state.OctaveBase = octave
	q.mu.Unlock()
	return nil
}

// Apply sets root, scale and octave together. Nothing changes unless all
// three are valid.
func (q *Quantizer) Apply(st State) error {
	if err := validateOctave(st.OctaveBase); err != nil {
		return err
	}
	notes, err := ScaleNotes(st.Root, st.Scale)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.state = st
	q.notes = notes
	q.mu.Unlock()
	return nil
}

// RandomNote picks a note of the current scale with an octave drawn
// uniformly from [minOctave, maxOctave]. The bounds are swapped if reversed.
func (q *Quantizer) RandomNote(minOctave, maxOctave int) Note {
	if minOctave > maxOctave {
		minOctave, maxOctave = maxOctave, minOctave
	}
	notes := q.ScaleNotes()

	q.rngMu.Lock()
	octave := minOctave + q.rng.Intn(maxOctave-minOctave+1)
	name := notes[q.rng.Intn(len(notes))]
	q.rngMu.Unlock()

	return Note{Name: name, Octave: octave}
}

// Chord builds a chord on a scale degree from the degree itself plus the
// notes two and four scale steps above it, wrapping within the scale. The
// chord type is validated but does not change the voicing: every quality
// yields the same three scale tones. Degrees of any sign wrap modulo the
// scale length. All tones sit at the base octave.
func (q *Quantizer) Chord(degree int, chordType ChordType) ([]Note, error) {
	if _, err := ChordTones(chordType); err != nil {
		return nil, err
	}
	q.mu.RLock()
	notes := q.notes
	octave := q.state.OctaveBase
	q.mu.RUnlock()

	n := len(notes)
	out := make([]Note, 0, 3)
	for _, step := range []int{0, 2, 4} {
		idx := ((degree+step)%n + n) % n
		out = append(out, Note{Name: notes[idx], Octave: octave})
	}
	return out, nil
}
