package voice

import (
	"fmt"
	"math"
	"sync"
)

// Volume bounds in decibels.
const (
	MinVolumeDB     = -60.0
	MaxVolumeDB     = 0.0
	DefaultVolumeDB = -10.0
)

// ChannelState is the mixer state of one voice.
type ChannelState struct {
	Voice    ID      `json:"voice"`
	Muted    bool    `json:"muted"`
	VolumeDB float64 `json:"volume_db"`
	Preset   string  `json:"preset,omitempty"`
}

// PresetListener is notified when a voice changes preset.
type PresetListener func(id ID, p Preset)

// Mixer holds per-voice mute, volume and preset. The sequencer consults it at
// the trigger boundary, so a mute takes effect on the next trigger.
type Mixer struct {
	mu        sync.RWMutex
	channels  [len(names)]ChannelState
	listeners []PresetListener
}

// NewMixer creates a mixer with every voice unmuted at the default volume
// and default preset.
func NewMixer() *Mixer {
	m := &Mixer{}
	for _, id := range All {
		st := ChannelState{Voice: id, VolumeDB: DefaultVolumeDB}
		if p, ok := DefaultPreset(id); ok {
			st.Preset = p.Name
		}
		m.channels[id] = st
	}
	return m
}

// OnPresetChange registers a listener called after a successful SetPreset.
func (m *Mixer) OnPresetChange(l PresetListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// SetMute mutes or unmutes a voice.
func (m *Mixer) SetMute(id ID, muted bool) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownVoice, int(id))
	}
	m.mu.Lock()
	m.channels[id].Muted = muted
	m.mu.Unlock()
	return nil
}

// Toggle flips a voice's mute state and returns the new state.
func (m *Mixer) Toggle(id ID) (bool, error) {
	if !id.Valid() {
		return false, fmt.Errorf("%w: %d", ErrUnknownVoice, int(id))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[id].Muted = !m.channels[id].Muted
	return m.channels[id].Muted, nil
}

// Muted reports whether a voice is muted. Unknown voices report muted.
func (m *Mixer) Muted(id ID) bool {
	if !id.Valid() {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[id].Muted
}

// SetVolume sets a voice's volume, clamped to [MinVolumeDB, MaxVolumeDB].
// It returns the applied value.
func (m *Mixer) SetVolume(id ID, db float64) (float64, error) {
	if !id.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownVoice, int(id))
	}
	db = ClampVolume(db)
	m.mu.Lock()
	m.channels[id].VolumeDB = db
	m.mu.Unlock()
	return db, nil
}

// ClampVolume limits db to the mixer range. NaN maps to the minimum.
func ClampVolume(db float64) float64 {
	if math.IsNaN(db) || db < MinVolumeDB {
		return MinVolumeDB
	}
	if db > MaxVolumeDB {
		return MaxVolumeDB
	}
	return db
}

// Volume returns a voice's volume in decibels.
func (m *Mixer) Volume(id ID) float64 {
	if !id.Valid() {
		return MinVolumeDB
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[id].VolumeDB
}

// Velocity maps a voice's volume to a MIDI velocity. 0 dB is 127 and every
// 40 dB divides the velocity by ten, so the floor of the range still sounds.
func (m *Mixer) Velocity(id ID) uint8 {
	return VelocityForDB(m.Volume(id))
}

// VelocityForDB converts decibels to a MIDI velocity in [1, 127].
func VelocityForDB(db float64) uint8 {
	v := math.Round(127 * math.Pow(10, ClampVolume(db)/40))
	if v < 1 {
		v = 1
	}
	return uint8(v)
}

// SetPreset selects a named preset for a voice. Unknown names leave the
// current preset in place and return ErrInvalidPreset.
func (m *Mixer) SetPreset(id ID, name string) error {
	p, err := LookupPreset(id, name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.channels[id].Preset = p.Name
	listeners := append([]PresetListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l(id, p)
	}
	return nil
}

// Preset returns a voice's current preset name, or "" for voices without
// presets.
func (m *Mixer) Preset(id ID) string {
	if !id.Valid() {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[id].Preset
}

// Snapshot returns the state of every voice in table order.
func (m *Mixer) Snapshot() []ChannelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChannelState, len(m.channels))
	copy(out, m.channels[:])
	return out
}
