package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/scenesynth.defaults.json"

// SynthConfig is the root configuration. Every field is optional; the Get*
// accessors supply defaults for anything the file leaves out. The effect and
// voice blocks share their JSON shape with the monitor's /api/params and
// /api/voices endpoints.
type SynthConfig struct {
	// Musical clock
	BPM       *float64 `json:"bpm,omitempty"`
	Lookahead *string  `json:"lookahead,omitempty"` // duration string like "100ms"

	// Sequencer
	TotalSteps            *int     `json:"total_steps,omitempty"`
	MotionThreshold       *float64 `json:"motion_threshold,omitempty"`
	BrightnessThreshold   *float64 `json:"brightness_threshold,omitempty"`
	PadChance             *float64 `json:"pad_chance,omitempty"`
	GlitchMotionThreshold *float64 `json:"glitch_motion_threshold,omitempty"`

	// Analyzer
	GridRows *int `json:"grid_rows,omitempty"`
	GridCols *int `json:"grid_cols,omitempty"`

	// Quantizer
	Root       *string `json:"root,omitempty"`
	Scale      *string `json:"scale,omitempty"`
	OctaveBase *int    `json:"octave_base,omitempty"`

	// Compositor
	CanvasWidth  *int     `json:"canvas_width,omitempty"`
	CanvasHeight *int     `json:"canvas_height,omitempty"`
	TargetFPS    *float64 `json:"target_fps,omitempty"`

	Effects *EffectsConfig          `json:"effects,omitempty"`
	Voices  map[string]*VoiceConfig `json:"voices,omitempty"`

	Seed *int64 `json:"seed,omitempty"`
}

// EffectsConfig carries the initial effect parameters. Values outside the
// declared ranges are clamped by the compositor, not rejected here.
type EffectsConfig struct {
	Feedback        *float64 `json:"feedback,omitempty"`
	FeedbackZoom    *float64 `json:"feedback_zoom,omitempty"`
	RotationSpeed   *float64 `json:"rotation_speed,omitempty"`
	PanX            *float64 `json:"pan_x,omitempty"`
	PanY            *float64 `json:"pan_y,omitempty"`
	RGBShift        *float64 `json:"rgb_shift,omitempty"`
	GlitchProb      *float64 `json:"glitch_prob,omitempty"`
	Invert          *float64 `json:"invert,omitempty"`
	Contrast        *float64 `json:"contrast,omitempty"`
	Brightness      *float64 `json:"brightness,omitempty"`
	HueShift        *float64 `json:"hue_shift,omitempty"`
	PixelSize       *int     `json:"pixel_size,omitempty"`
	Kaleidoscope    *int     `json:"kaleidoscope,omitempty"`
	ColorChase      *float64 `json:"color_chase,omitempty"`
	ColorChaseSpeed *float64 `json:"color_chase_speed,omitempty"`
}

// VoiceConfig is the per-voice mixer setup.
type VoiceConfig struct {
	VolumeDB *float64 `json:"volume_db,omitempty"`
	Muted    *bool    `json:"muted,omitempty"`
	Preset   *string  `json:"preset,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptySynthConfig returns a SynthConfig with all fields unset.
func EmptySynthConfig() *SynthConfig {
	return &SynthConfig{}
}

// LoadSynthConfig loads a SynthConfig from a JSON file. The file must have a
// .json extension and be under 1MB. Omitted fields keep their defaults.
func LoadSynthConfig(path string) (*SynthConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySynthConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *SynthConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadSynthConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the structural fields. Effect and threshold values are
// clamped downstream, so only values that would break construction are
// rejected here.
func (c *SynthConfig) Validate() error {
	if c.BPM != nil && *c.BPM <= 0 {
		return fmt.Errorf("bpm must be positive, got %f", *c.BPM)
	}
	if c.TotalSteps != nil && *c.TotalSteps < 1 {
		return fmt.Errorf("total_steps must be at least 1, got %d", *c.TotalSteps)
	}
	if c.GridRows != nil && *c.GridRows < 1 {
		return fmt.Errorf("grid_rows must be at least 1, got %d", *c.GridRows)
	}
	if c.GridCols != nil && *c.GridCols < 1 {
		return fmt.Errorf("grid_cols must be at least 1, got %d", *c.GridCols)
	}
	if c.CanvasWidth != nil && *c.CanvasWidth < 1 {
		return fmt.Errorf("canvas_width must be at least 1, got %d", *c.CanvasWidth)
	}
	if c.CanvasHeight != nil && *c.CanvasHeight < 1 {
		return fmt.Errorf("canvas_height must be at least 1, got %d", *c.CanvasHeight)
	}
	if c.TargetFPS != nil && *c.TargetFPS <= 0 {
		return fmt.Errorf("target_fps must be positive, got %f", *c.TargetFPS)
	}
	if c.Lookahead != nil && *c.Lookahead != "" {
		d, err := time.ParseDuration(*c.Lookahead)
		if err != nil {
			return fmt.Errorf("invalid lookahead '%s': %w", *c.Lookahead, err)
		}
		if d < 0 {
			return fmt.Errorf("lookahead must not be negative, got %s", d)
		}
	}
	for name := range c.Voices {
		switch name {
		case "lead", "pad", "bass", "noise":
		default:
			return fmt.Errorf("unknown voice %q in voices block", name)
		}
	}
	return nil
}

// GetBPM returns the tempo or the default of 120.
func (c *SynthConfig) GetBPM() float64 {
	if c.BPM == nil {
		return 120
	}
	return *c.BPM
}

// GetLookahead parses the scheduling lookahead, defaulting to 100ms.
func (c *SynthConfig) GetLookahead() time.Duration {
	if c.Lookahead == nil || *c.Lookahead == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.Lookahead)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// GetTotalSteps returns the sequence length or the default of 16.
func (c *SynthConfig) GetTotalSteps() int {
	if c.TotalSteps == nil {
		return 16
	}
	return *c.TotalSteps
}

func (c *SynthConfig) GetMotionThreshold() float64 {
	if c.MotionThreshold == nil {
		return 0.15
	}
	return *c.MotionThreshold
}

func (c *SynthConfig) GetBrightnessThreshold() float64 {
	if c.BrightnessThreshold == nil {
		return 0.6
	}
	return *c.BrightnessThreshold
}

// GetPadChance returns the probability that a moving middle-band cell plays
// the pad voice even when it is not bright.
func (c *SynthConfig) GetPadChance() float64 {
	if c.PadChance == nil {
		return 0.3
	}
	return *c.PadChance
}

func (c *SynthConfig) GetGlitchMotionThreshold() float64 {
	if c.GlitchMotionThreshold == nil {
		return 0.4
	}
	return *c.GlitchMotionThreshold
}

func (c *SynthConfig) GetGridRows() int {
	if c.GridRows == nil {
		return 4
	}
	return *c.GridRows
}

func (c *SynthConfig) GetGridCols() int {
	if c.GridCols == nil {
		return 4
	}
	return *c.GridCols
}

func (c *SynthConfig) GetRoot() string {
	if c.Root == nil {
		return "C"
	}
	return *c.Root
}

func (c *SynthConfig) GetScale() string {
	if c.Scale == nil {
		return "minor"
	}
	return *c.Scale
}

func (c *SynthConfig) GetOctaveBase() int {
	if c.OctaveBase == nil {
		return 3
	}
	return *c.OctaveBase
}

func (c *SynthConfig) GetCanvasWidth() int {
	if c.CanvasWidth == nil {
		return 640
	}
	return *c.CanvasWidth
}

func (c *SynthConfig) GetCanvasHeight() int {
	if c.CanvasHeight == nil {
		return 480
	}
	return *c.CanvasHeight
}

func (c *SynthConfig) GetTargetFPS() float64 {
	if c.TargetFPS == nil {
		return 30
	}
	return *c.TargetFPS
}

// GetSeed returns the random seed, or 0 meaning "seed from the clock".
func (c *SynthConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetEffects returns the effects block, never nil.
func (c *SynthConfig) GetEffects() *EffectsConfig {
	if c.Effects == nil {
		return &EffectsConfig{}
	}
	return c.Effects
}

// GetVoice returns the block for a voice name, never nil.
func (c *SynthConfig) GetVoice(name string) *VoiceConfig {
	if v, ok := c.Voices[name]; ok && v != nil {
		return v
	}
	return &VoiceConfig{}
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func (e *EffectsConfig) GetFeedback() float64        { return getFloat(e.Feedback, 0.92) }
func (e *EffectsConfig) GetFeedbackZoom() float64    { return getFloat(e.FeedbackZoom, 1.01) }
func (e *EffectsConfig) GetRotationSpeed() float64   { return getFloat(e.RotationSpeed, 0) }
func (e *EffectsConfig) GetPanX() float64            { return getFloat(e.PanX, 0) }
func (e *EffectsConfig) GetPanY() float64            { return getFloat(e.PanY, 0) }
func (e *EffectsConfig) GetRGBShift() float64        { return getFloat(e.RGBShift, 0) }
func (e *EffectsConfig) GetGlitchProb() float64      { return getFloat(e.GlitchProb, 0) }
func (e *EffectsConfig) GetInvert() float64          { return getFloat(e.Invert, 0) }
func (e *EffectsConfig) GetContrast() float64        { return getFloat(e.Contrast, 1) }
func (e *EffectsConfig) GetBrightness() float64      { return getFloat(e.Brightness, 1) }
func (e *EffectsConfig) GetHueShift() float64        { return getFloat(e.HueShift, 0) }
func (e *EffectsConfig) GetPixelSize() int           { return getInt(e.PixelSize, 1) }
func (e *EffectsConfig) GetKaleidoscope() int        { return getInt(e.Kaleidoscope, 0) }
func (e *EffectsConfig) GetColorChase() float64      { return getFloat(e.ColorChase, 0) }
func (e *EffectsConfig) GetColorChaseSpeed() float64 { return getFloat(e.ColorChaseSpeed, 1) }

// GetVolumeDB returns the voice volume in decibels, defaulting to -10.
func (v *VoiceConfig) GetVolumeDB() float64 { return getFloat(v.VolumeDB, -10) }

// GetMuted reports whether the voice starts muted.
func (v *VoiceConfig) GetMuted() bool {
	if v.Muted == nil {
		return false
	}
	return *v.Muted
}

// GetPreset returns the configured preset name, or "" for the voice default.
func (v *VoiceConfig) GetPreset() string {
	if v.Preset == nil {
		return ""
	}
	return *v.Preset
}
