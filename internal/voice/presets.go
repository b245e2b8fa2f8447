package voice

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidPreset is returned when a preset name is not defined for a voice.
var ErrInvalidPreset = errors.New("invalid preset")

// Preset names a timbre for a voice. Program is the General MIDI program
// (zero-based) the MIDI sinks select when the preset is applied.
type Preset struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Program uint8  `json:"program"`
}

// presetTables holds the selectable timbres. Noise has no presets.
var presetTables = map[ID][]Preset{
	Lead: {
		{"saw", "Saw Lead", 81},
		{"square", "Square Wave", 80},
		{"fm", "FM Bell", 14},
		{"pluck", "Pluck", 45},
		{"arp", "Arp Synth", 87},
		{"soft", "Soft Lead", 73},
		{"detuned", "Detuned", 86},
		{"noise", "Noise Lead", 84},
	},
	Bass: {
		{"sub", "Sub Bass", 38},
		{"saw", "Saw Bass", 39},
		{"fm", "FM Bass", 37},
		{"pluck", "Pluck Bass", 34},
		{"wobble", "Wobble", 87},
		{"reese", "Reese Bass", 63},
	},
	Pad: {
		{"warm", "Warm Pad", 89},
		{"string", "String Pad", 50},
		{"choir", "Choir Pad", 91},
		{"dark", "Dark Pad", 94},
		{"shimmer", "Shimmer Pad", 88},
	},
}

// DefaultPreset returns the preset a voice starts with, and false for voices
// without presets.
func DefaultPreset(id ID) (Preset, bool) {
	table := presetTables[id]
	if len(table) == 0 {
		return Preset{}, false
	}
	return table[0], true
}

// LookupPreset finds a preset by name for a voice.
func LookupPreset(id ID, name string) (Preset, error) {
	if !id.Valid() {
		return Preset{}, fmt.Errorf("%w: %d", ErrUnknownVoice, int(id))
	}
	for _, p := range presetTables[id] {
		if p.Name == name {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q for %s", ErrInvalidPreset, name, id)
}

// Presets returns the preset names available for a voice, sorted.
func Presets(id ID) []string {
	var out []string
	for _, p := range presetTables[id] {
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return out
}
