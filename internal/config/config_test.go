package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEmptySynthConfig_Defaults(t *testing.T) {
	cfg := EmptySynthConfig()

	assert.Equal(t, 120.0, cfg.GetBPM())
	assert.Equal(t, 100*time.Millisecond, cfg.GetLookahead())
	assert.Equal(t, 16, cfg.GetTotalSteps())
	assert.Equal(t, 0.15, cfg.GetMotionThreshold())
	assert.Equal(t, 0.6, cfg.GetBrightnessThreshold())
	assert.Equal(t, 0.3, cfg.GetPadChance())
	assert.Equal(t, 0.4, cfg.GetGlitchMotionThreshold())
	assert.Equal(t, 4, cfg.GetGridRows())
	assert.Equal(t, 4, cfg.GetGridCols())
	assert.Equal(t, "C", cfg.GetRoot())
	assert.Equal(t, "minor", cfg.GetScale())
	assert.Equal(t, 3, cfg.GetOctaveBase())
	assert.Equal(t, 640, cfg.GetCanvasWidth())
	assert.Equal(t, 480, cfg.GetCanvasHeight())
	assert.Equal(t, 30.0, cfg.GetTargetFPS())

	fx := cfg.GetEffects()
	assert.Equal(t, 0.92, fx.GetFeedback())
	assert.Equal(t, 1.01, fx.GetFeedbackZoom())
	assert.Equal(t, 1, fx.GetPixelSize())
	assert.Equal(t, 1.0, fx.GetColorChaseSpeed())

	v := cfg.GetVoice("lead")
	assert.Equal(t, -10.0, v.GetVolumeDB())
	assert.False(t, v.GetMuted())
	assert.Equal(t, "", v.GetPreset())
}

func TestLoadSynthConfig(t *testing.T) {
	path := writeConfig(t, "synth.json", `{
  "bpm": 96,
  "lookahead": "50ms",
  "grid_rows": 6,
  "scale": "dorian",
  "effects": {"feedback": 0.5, "kaleidoscope": 4},
  "voices": {"bass": {"volume_db": -20, "muted": true, "preset": "fm"}}
}`)

	cfg, err := LoadSynthConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 96.0, cfg.GetBPM())
	assert.Equal(t, 50*time.Millisecond, cfg.GetLookahead())
	assert.Equal(t, 6, cfg.GetGridRows())
	assert.Equal(t, 4, cfg.GetGridCols(), "omitted fields keep defaults")
	assert.Equal(t, "dorian", cfg.GetScale())
	assert.Equal(t, 0.5, cfg.GetEffects().GetFeedback())
	assert.Equal(t, 4, cfg.GetEffects().GetKaleidoscope())
	assert.Equal(t, 1.01, cfg.GetEffects().GetFeedbackZoom())

	bass := cfg.GetVoice("bass")
	assert.Equal(t, -20.0, bass.GetVolumeDB())
	assert.True(t, bass.GetMuted())
	assert.Equal(t, "fm", bass.GetPreset())
}

func TestLoadSynthConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "synth.yaml", `{}`, ".json extension"},
		{"bad json", "synth.json", `{`, "parse config JSON"},
		{"zero bpm", "synth.json", `{"bpm": 0}`, "bpm must be positive"},
		{"zero steps", "synth.json", `{"total_steps": 0}`, "total_steps"},
		{"zero rows", "synth.json", `{"grid_rows": 0}`, "grid_rows"},
		{"bad lookahead", "synth.json", `{"lookahead": "soon"}`, "invalid lookahead"},
		{"unknown voice", "synth.json", `{"voices": {"choir": {}}}`, "unknown voice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadSynthConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSynthConfig_TooLarge(t *testing.T) {
	body := `{"root": "` + strings.Repeat("C", 1024*1024) + `"}`
	path := writeConfig(t, "big.json", body)
	_, err := LoadSynthConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadSynthConfig_Missing(t *testing.T) {
	_, err := LoadSynthConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(unwrapAll(err)))
}

func unwrapAll(err error) error {
	for {
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		err = u.Unwrap()
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	assert.Equal(t, 120.0, cfg.GetBPM())
	assert.Equal(t, 16, cfg.GetTotalSteps())
	assert.Equal(t, "minor", cfg.GetScale())
	assert.Equal(t, "saw", cfg.GetVoice("lead").GetPreset())
	assert.Equal(t, "sub", cfg.GetVoice("bass").GetPreset())
}

func TestValidate_PointerHelpers(t *testing.T) {
	cfg := &SynthConfig{
		BPM:       ptrFloat64(140),
		GridCols:  ptrInt(8),
		Root:      ptrString("F#"),
		Lookahead: ptrString(""),
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.GetGridCols())
	assert.Equal(t, "F#", cfg.GetRoot())
	assert.Equal(t, 100*time.Millisecond, cfg.GetLookahead())
}
