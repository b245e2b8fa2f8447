// Package sequencer drives the instrument voices from the analysis grid on a
// musical clock: each sixteenth note it scans one grid column and triggers
// the voices whose cells moved.
package sequencer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/scenesynth/internal/monitoring"
	"github.com/banshee-data/scenesynth/internal/scene"
	"github.com/banshee-data/scenesynth/internal/theory"
	"github.com/banshee-data/scenesynth/internal/voice"
)

// GridAnalyzer produces a fresh grid per call. *scene.Analyzer satisfies it.
type GridAnalyzer interface {
	Analyze() (scene.Grid, error)
}

// Band is a horizontal slice of the grid mapped to one voice.
type Band int

const (
	TopBand Band = iota
	MiddleBand
	BottomBand
)

// Bands lists the bands top to bottom.
var Bands = []Band{TopBand, MiddleBand, BottomBand}

func (b Band) String() string {
	switch b {
	case TopBand:
		return "top"
	case MiddleBand:
		return "middle"
	case BottomBand:
		return "bottom"
	}
	return fmt.Sprintf("band(%d)", int(b))
}

// BandFor assigns row y of a grid with rows rows to a band. The top and
// bottom bands are each max(1, rows/4) rows tall and everything in between
// is the middle band, so a 4-row grid maps rows 0 / 1-2 / 3.
func BandFor(y, rows int) Band {
	size := rows / 4
	if size < 1 {
		size = 1
	}
	switch {
	case y < size:
		return TopBand
	case y >= rows-size:
		return BottomBand
	}
	return MiddleBand
}

// route describes how a band plays.
type route struct {
	voice     voice.ID
	minOctave int
	maxOctave int
	duration  voice.Duration
}

var bandRoutes = map[Band]route{
	TopBand:    {voice.Lead, 4, 5, voice.Sixteenth},
	MiddleBand: {voice.Pad, 3, 4, voice.Eighth},
	BottomBand: {voice.Bass, 1, 2, voice.Eighth},
}

// Config holds the sequencer's initial parameters.
type Config struct {
	TotalSteps            int
	MotionThreshold       float64
	BrightnessThreshold   float64
	PadChance             float64
	GlitchMotionThreshold float64

	// Rand drives the pad chance gate. Nil uses a fixed seed.
	Rand *rand.Rand
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		TotalSteps:            16,
		MotionThreshold:       0.15,
		BrightnessThreshold:   0.6,
		PadChance:             0.3,
		GlitchMotionThreshold: 0.4,
	}
}

// State is a snapshot of the sequencer's externally visible state.
type State struct {
	StepIndex             int     `json:"step_index"`
	TotalSteps            int     `json:"total_steps"`
	MotionThreshold       float64 `json:"motion_threshold"`
	BrightnessThreshold   float64 `json:"brightness_threshold"`
	PadChance             float64 `json:"pad_chance"`
	GlitchMotionThreshold float64 `json:"glitch_motion_threshold"`
	Running               bool    `json:"running"`
}

// Stats counts tick outcomes since construction.
type Stats struct {
	Ticks    uint64            `json:"ticks"`
	Skipped  uint64            `json:"skipped"`
	Triggers map[string]uint64 `json:"triggers"`
	Muted    map[string]uint64 `json:"muted"`
	Failed   uint64            `json:"failed"`
}

// Sequencer maps grid activity to voice triggers. Tick runs to completion
// under the sequencer lock, so setters never observe a half-finished step.
type Sequencer struct {
	analyzer  GridAnalyzer
	quantizer *theory.Quantizer
	sink      voice.Sink
	mixer     *voice.Mixer
	transport *Transport

	// lifeMu serialises Start and Stop.
	lifeMu sync.Mutex

	mu        sync.Mutex
	cfg       Config
	step      int
	running   bool
	subID     string
	rng       *rand.Rand
	ticks     uint64
	skipped   uint64
	failed    uint64
	triggered [4]uint64
	muted     [4]uint64
	onGrid    []func(scene.Grid, int)

	notices *monitoring.Throttle
}

// New creates a stopped sequencer.
func New(cfg Config, analyzer GridAnalyzer, quantizer *theory.Quantizer, sink voice.Sink, mixer *voice.Mixer, transport *Transport) (*Sequencer, error) {
	if analyzer == nil || quantizer == nil || sink == nil || mixer == nil {
		return nil, fmt.Errorf("sequencer requires analyzer, quantizer, sink and mixer")
	}
	if cfg.TotalSteps < 1 {
		return nil, fmt.Errorf("total steps must be at least 1, got %d", cfg.TotalSteps)
	}
	cfg.MotionThreshold = clampUnit(cfg.MotionThreshold)
	cfg.BrightnessThreshold = clampUnit(cfg.BrightnessThreshold)
	cfg.PadChance = clampUnit(cfg.PadChance)
	cfg.GlitchMotionThreshold = clampUnit(cfg.GlitchMotionThreshold)
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Sequencer{
		analyzer:  analyzer,
		quantizer: quantizer,
		sink:      sink,
		mixer:     mixer,
		transport: transport,
		cfg:       cfg,
		rng:       rng,
		notices:   monitoring.NewThrottle(5*time.Second, nil),
	}, nil
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// OnGrid registers an observer called with each analysed grid and the
// column scanned, from inside the tick.
func (s *Sequencer) OnGrid(fn func(g scene.Grid, column int)) {
	s.mu.Lock()
	s.onGrid = append(s.onGrid, fn)
	s.mu.Unlock()
}

// Start subscribes to the transport and starts it. Calling Start while
// running does nothing.
func (s *Sequencer) Start() error {
	if s.transport == nil {
		return fmt.Errorf("sequencer has no transport")
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	id := s.transport.Subscribe(func(t Tick) {
		if err := s.Tick(context.Background(), t.Time); err != nil {
			s.notices.Logf("tick", "sequencer: tick skipped: %v", err)
		}
	})
	s.mu.Lock()
	s.subID = id
	s.mu.Unlock()
	s.transport.Start()
	diagf("sequencer started at %.1f bpm", s.transport.BPM())
	return nil
}

// Stop detaches from the transport. When it returns no further triggers
// fire. The step position is kept; use Reset to rewind.
func (s *Sequencer) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	id := s.subID
	s.subID = ""
	s.mu.Unlock()

	if s.transport != nil && id != "" {
		s.transport.Unsubscribe(id)
	}
	diagf("sequencer stopped at step %d", s.StepIndex())
}

// Running reports whether the sequencer is attached to the transport.
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Reset rewinds to step 0.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	s.step = 0
	s.mu.Unlock()
}

// StepIndex returns the step the next tick will play.
func (s *Sequencer) StepIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// SetMotionThreshold sets the motion gate, clamped to [0, 1].
func (s *Sequencer) SetMotionThreshold(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MotionThreshold = clampUnit(v)
	return s.cfg.MotionThreshold
}

// SetBrightnessThreshold sets the pad brightness gate, clamped to [0, 1].
func (s *Sequencer) SetBrightnessThreshold(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.BrightnessThreshold = clampUnit(v)
	return s.cfg.BrightnessThreshold
}

// SetTotalSteps changes the sequence length (minimum 1). The current step
// is wrapped into the new range.
func (s *Sequencer) SetTotalSteps(n int) int {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.TotalSteps = n
	s.step %= n
	return n
}

// State returns a snapshot of the sequencer state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		StepIndex:             s.step,
		TotalSteps:            s.cfg.TotalSteps,
		MotionThreshold:       s.cfg.MotionThreshold,
		BrightnessThreshold:   s.cfg.BrightnessThreshold,
		PadChance:             s.cfg.PadChance,
		GlitchMotionThreshold: s.cfg.GlitchMotionThreshold,
		Running:               s.running,
	}
}

// Stats returns the tick counters.
func (s *Sequencer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Ticks:    s.ticks,
		Skipped:  s.skipped,
		Failed:   s.failed,
		Triggers: make(map[string]uint64),
		Muted:    make(map[string]uint64),
	}
	for _, id := range voice.All {
		st.Triggers[id.String()] = s.triggered[id]
		st.Muted[id.String()] = s.muted[id]
	}
	return st
}

// Tick runs one sequencer step for audible time at. When the analyzer has
// no frame the step is skipped entirely: nothing triggers and the step
// index does not advance.
func (s *Sequencer) Tick(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	grid, err := s.analyzer.Analyze()
	if err != nil {
		s.skipped++
		return fmt.Errorf("analyze: %w", err)
	}
	if grid.Cols < 1 || len(grid.Cells) != grid.Rows*grid.Cols {
		s.skipped++
		return fmt.Errorf("analyze: malformed %dx%d grid with %d cells", grid.Rows, grid.Cols, len(grid.Cells))
	}

	column := s.step % grid.Cols
	for _, fn := range s.onGrid {
		fn(grid, column)
	}

	for _, cell := range grid.Column(column) {
		if cell.Motion > s.cfg.MotionThreshold {
			r := bandRoutes[BandFor(cell.Y, grid.Rows)]
			play := true
			if r.voice == voice.Pad {
				play = cell.Brightness > s.cfg.BrightnessThreshold || s.rng.Float64() < s.cfg.PadChance
			}
			if play {
				note := s.quantizer.RandomNote(r.minOctave, r.maxOctave)
				s.emitLocked(ctx, voice.Trigger{
					Voice:    r.voice,
					Note:     note,
					HasPitch: true,
					Duration: r.duration,
					At:       at,
				})
			}
		}
		if cell.Motion > s.cfg.GlitchMotionThreshold {
			s.emitLocked(ctx, voice.Trigger{Voice: voice.Noise, Duration: voice.Sixteenth, At: at})
		}
	}

	tracef("step %d col %d motion %.3f", s.step, column, grid.MeanMotion())
	s.step = (s.step + 1) % s.cfg.TotalSteps
	return nil
}

// emitLocked applies the mute gate and forwards a trigger to the sink.
func (s *Sequencer) emitLocked(ctx context.Context, t voice.Trigger) {
	if s.mixer.Muted(t.Voice) {
		s.muted[t.Voice]++
		return
	}
	t.Step = s.step
	t.Velocity = s.mixer.Velocity(t.Voice)
	if err := s.sink.TriggerNote(ctx, t); err != nil {
		s.failed++
		s.notices.Logf("sink", "sequencer: %s trigger failed: %v", t.Voice, err)
		return
	}
	s.triggered[t.Voice]++
}
