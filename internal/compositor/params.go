package compositor

import (
	"math"
	"sync"

	"github.com/banshee-data/scenesynth/internal/config"
)

// EffectParams is the flat effect configuration read once per render.
type EffectParams struct {
	Feedback        float64 `json:"feedback"`
	FeedbackZoom    float64 `json:"feedback_zoom"`
	RotationSpeed   float64 `json:"rotation_speed"`
	PanX            float64 `json:"pan_x"`
	PanY            float64 `json:"pan_y"`
	RGBShift        float64 `json:"rgb_shift"`
	GlitchProb      float64 `json:"glitch_prob"`
	Invert          float64 `json:"invert"`
	Contrast        float64 `json:"contrast"`
	Brightness      float64 `json:"brightness"`
	HueShift        float64 `json:"hue_shift"`
	PixelSize       int     `json:"pixel_size"`
	Kaleidoscope    int     `json:"kaleidoscope"`
	ColorChase      float64 `json:"color_chase"`
	ColorChaseSpeed float64 `json:"color_chase_speed"`
}

// Declared parameter ranges.
const (
	MaxFeedback        = 0.99
	MinFeedbackZoom    = 0.5
	MaxFeedbackZoom    = 2.0
	MaxRotationSpeed   = 45.0
	MaxPan             = 100.0
	MaxRGBShift        = 50.0
	MaxContrast        = 3.0
	MaxBrightness      = 3.0
	MaxHueShift        = 360.0
	MaxPixelSize       = 64
	MaxKaleidoscope    = 16
	MaxColorChaseSpeed = 10.0
)

// DefaultParams returns the stock effect settings: a slowly zooming trail
// with every colour effect off.
func DefaultParams() EffectParams {
	return EffectParams{
		Feedback:        0.92,
		FeedbackZoom:    1.01,
		Contrast:        1,
		Brightness:      1,
		PixelSize:       1,
		ColorChaseSpeed: 1,
	}
}

// ParamsFromConfig builds effect parameters from the effects section of the
// configuration file. Unset fields keep their defaults.
func ParamsFromConfig(e *config.EffectsConfig) EffectParams {
	if e == nil {
		return DefaultParams()
	}
	return EffectParams{
		Feedback:        e.GetFeedback(),
		FeedbackZoom:    e.GetFeedbackZoom(),
		RotationSpeed:   e.GetRotationSpeed(),
		PanX:            e.GetPanX(),
		PanY:            e.GetPanY(),
		RGBShift:        e.GetRGBShift(),
		GlitchProb:      e.GetGlitchProb(),
		Invert:          e.GetInvert(),
		Contrast:        e.GetContrast(),
		Brightness:      e.GetBrightness(),
		HueShift:        e.GetHueShift(),
		PixelSize:       e.GetPixelSize(),
		Kaleidoscope:    e.GetKaleidoscope(),
		ColorChase:      e.GetColorChase(),
		ColorChaseSpeed: e.GetColorChaseSpeed(),
	}.Clamp()
}

// Clamp limits every field to its declared range. NaN falls back to the
// field's default.
func (p EffectParams) Clamp() EffectParams {
	d := DefaultParams()
	p.Feedback = clampFloat(p.Feedback, 0, MaxFeedback, d.Feedback)
	p.FeedbackZoom = clampFloat(p.FeedbackZoom, MinFeedbackZoom, MaxFeedbackZoom, d.FeedbackZoom)
	p.RotationSpeed = clampFloat(p.RotationSpeed, -MaxRotationSpeed, MaxRotationSpeed, d.RotationSpeed)
	p.PanX = clampFloat(p.PanX, -MaxPan, MaxPan, d.PanX)
	p.PanY = clampFloat(p.PanY, -MaxPan, MaxPan, d.PanY)
	p.RGBShift = clampFloat(p.RGBShift, 0, MaxRGBShift, d.RGBShift)
	p.GlitchProb = clampFloat(p.GlitchProb, 0, 1, d.GlitchProb)
	p.Invert = clampFloat(p.Invert, 0, 1, d.Invert)
	p.Contrast = clampFloat(p.Contrast, 0, MaxContrast, d.Contrast)
	p.Brightness = clampFloat(p.Brightness, 0, MaxBrightness, d.Brightness)
	p.HueShift = clampFloat(p.HueShift, -MaxHueShift, MaxHueShift, d.HueShift)
	p.PixelSize = clampInt(p.PixelSize, 1, MaxPixelSize)
	p.Kaleidoscope = clampInt(p.Kaleidoscope, 0, MaxKaleidoscope)
	p.ColorChase = clampFloat(p.ColorChase, 0, 1, d.ColorChase)
	p.ColorChaseSpeed = clampFloat(p.ColorChaseSpeed, 0, MaxColorChaseSpeed, d.ColorChaseSpeed)
	return p
}

func clampFloat(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// colorIdentity reports whether the colour pass would leave every pixel
// unchanged, given the RGB shift actually chosen for this frame.
func (p EffectParams) colorIdentity(shift int) bool {
	return shift == 0 && p.Invert == 0 && p.Contrast == 1 && p.Brightness == 1 && p.HueShift == 0
}

// Params is the shared, mutable home of the effect parameters. Writers clamp
// at the boundary; the compositor takes one snapshot per frame.
type Params struct {
	mu sync.RWMutex
	p  EffectParams
}

// NewParams creates a store holding p, clamped.
func NewParams(p EffectParams) *Params {
	return &Params{p: p.Clamp()}
}

// Get returns the current parameters.
func (s *Params) Get() EffectParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

// Set replaces all parameters and returns the clamped values stored.
func (s *Params) Set(p EffectParams) EffectParams {
	p = p.Clamp()
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
	return p
}

// Update applies fn to a copy of the current parameters and stores the
// clamped result.
func (s *Params) Update(fn func(*EffectParams)) EffectParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.p
	fn(&p)
	s.p = p.Clamp()
	return s.p
}

// SetFeedback sets the feedback decay.
func (s *Params) SetFeedback(v float64) float64 {
	return s.Update(func(p *EffectParams) { p.Feedback = v }).Feedback
}

// SetFeedbackZoom sets the per-frame feedback scale.
func (s *Params) SetFeedbackZoom(v float64) float64 {
	return s.Update(func(p *EffectParams) { p.FeedbackZoom = v }).FeedbackZoom
}

// SetRGBShift sets the fixed part of the RGB channel shift.
func (s *Params) SetRGBShift(v float64) float64 {
	return s.Update(func(p *EffectParams) { p.RGBShift = v }).RGBShift
}

// SetGlitchProb sets the glitch probability.
func (s *Params) SetGlitchProb(v float64) float64 {
	return s.Update(func(p *EffectParams) { p.GlitchProb = v }).GlitchProb
}

// SetPixelSize sets the pixelation block size.
func (s *Params) SetPixelSize(n int) int {
	return s.Update(func(p *EffectParams) { p.PixelSize = n }).PixelSize
}

// SetKaleidoscope sets the kaleidoscope segment count; 0 disables it.
func (s *Params) SetKaleidoscope(n int) int {
	return s.Update(func(p *EffectParams) { p.Kaleidoscope = n }).Kaleidoscope
}

// SetColorChase sets the colour chase intensity and speed.
func (s *Params) SetColorChase(intensity, speed float64) (float64, float64) {
	p := s.Update(func(p *EffectParams) {
		p.ColorChase = intensity
		p.ColorChaseSpeed = speed
	})
	return p.ColorChase, p.ColorChaseSpeed
}
