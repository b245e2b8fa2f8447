// Package engine wires the video-to-music pipeline. A frame source feeds the
// compositor, the compositor's output is analysed on every sequencer tick,
// and the resulting triggers fan out to the voice sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/scenesynth/internal/compositor"
	"github.com/banshee-data/scenesynth/internal/config"
	"github.com/banshee-data/scenesynth/internal/monitoring"
	"github.com/banshee-data/scenesynth/internal/scene"
	"github.com/banshee-data/scenesynth/internal/sequencer"
	"github.com/banshee-data/scenesynth/internal/theory"
	"github.com/banshee-data/scenesynth/internal/timeutil"
	"github.com/banshee-data/scenesynth/internal/voice"
)

// ErrRunning is returned when Run or RenderOffline is called while the engine
// is already running.
var ErrRunning = errors.New("engine already running")

const (
	syntheticBlobs      = 6
	recentTriggers      = 64
	midiServiceInterval = 2 * time.Millisecond
	hudFontSize         = 14
)

// OfflineOrigin is the musical time of frame zero in an offline render.
var OfflineOrigin = time.Unix(0, 0).UTC()

// Options configures New. Only Config is required in practice; a nil Config
// uses the built-in defaults.
type Options struct {
	Config *config.SynthConfig

	// Source is the live layer. Nil uses a synthetic blob source that the
	// engine advances once per rendered frame.
	Source scene.Source

	// Clock drives the render loop, transport and schedulers. Nil is the
	// wall clock.
	Clock timeutil.Clock

	// MIDIOut receives raw MIDI bytes, usually a serial port. Live mode only.
	MIDIOut io.Writer

	// Sinks receive every dispatched trigger alongside the engine's own.
	Sinks []voice.Sink

	// HUD draws a status line over each frame.
	HUD bool

	// Shapes places this many random outlined shapes over the frame.
	Shapes int

	// Record keeps a Standard MIDI File of each run, see Recorder.
	Record bool
}

// Engine owns every pipeline component. Build it with New, then drive it
// with Run or RenderOffline, one at a time.
type Engine struct {
	cfg       *config.SynthConfig
	clock     timeutil.Clock
	synthetic *scene.SyntheticSource
	params    *compositor.Params
	comp      *compositor.Compositor
	handoff   *scene.FrameHandoff
	analyzer  *scene.Analyzer
	quantizer *theory.Quantizer
	mixer     *voice.Mixer
	transport *sequencer.Transport
	seq       *sequencer.Sequencer
	sched     *voice.Scheduler
	counter   *voice.Counter
	midi      *voice.MIDISink
	notices   *monitoring.Throttle

	record   bool
	recMu    sync.Mutex
	recorder *voice.Recorder

	runMu   sync.Mutex
	running bool
}

// New builds the pipeline from opts.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.EmptySynthConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	seed := cfg.GetSeed()
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// rand.Rand is not safe for concurrent use; each consumer gets its own.
	rngFor := func(n int64) *rand.Rand { return rand.New(rand.NewSource(seed + n)) }

	e := &Engine{
		cfg:     cfg,
		clock:   clock,
		handoff: scene.NewFrameHandoff(),
		mixer:   voice.NewMixer(),
		counter: voice.NewCounter(recentTriggers),
		notices: monitoring.NewThrottle(5*time.Second, clock),
		record:  opts.Record,
	}

	w, h := cfg.GetCanvasWidth(), cfg.GetCanvasHeight()
	src := opts.Source
	if src == nil {
		e.synthetic = scene.NewSyntheticSource(w, h, syntheticBlobs, rngFor(0))
		src = e.synthetic
	}

	e.params = compositor.NewParams(compositor.ParamsFromConfig(cfg.GetEffects()))
	comp, err := compositor.New(w, h, e.params, src, e.handoff, rngFor(1))
	if err != nil {
		return nil, fmt.Errorf("compositor: %w", err)
	}
	e.comp = comp

	if opts.Shapes > 0 {
		shapes := compositor.NewShapes(rngFor(2))
		for i := 0; i < opts.Shapes; i++ {
			if _, err := shapes.Add(""); err != nil {
				return nil, fmt.Errorf("shapes: %w", err)
			}
		}
		comp.AddOverlay(shapes)
	}
	if opts.HUD {
		hud, err := compositor.NewHUD(hudFontSize, e.Status)
		if err != nil {
			return nil, err
		}
		comp.AddOverlay(hud)
	}

	e.analyzer, err = scene.NewAnalyzer(e.handoff, cfg.GetGridRows(), cfg.GetGridCols())
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}

	e.quantizer, err = theory.NewQuantizer(theory.State{
		Root:       theory.NoteName(cfg.GetRoot()),
		Scale:      theory.ScaleName(cfg.GetScale()),
		OctaveBase: cfg.GetOctaveBase(),
	}, rngFor(3))
	if err != nil {
		return nil, fmt.Errorf("quantizer: %w", err)
	}

	e.transport = sequencer.NewTransport(clock, cfg.GetBPM(), cfg.GetLookahead())

	if opts.MIDIOut != nil {
		e.midi = voice.NewMIDISink(opts.MIDIOut, clock, e.transport.BPM)
		e.mixer.OnPresetChange(func(id voice.ID, p voice.Preset) {
			if err := e.midi.ProgramChange(id, p.Program); err != nil {
				monitoring.Logf("engine: program change for %s failed: %v", id, err)
			}
		})
	}
	if err := applyVoices(e.mixer, cfg); err != nil {
		return nil, err
	}

	out := voice.MultiSink{e.counter, voice.SinkFunc(e.recordTrigger)}
	if e.midi != nil {
		out = append(out, e.midi)
	}
	out = append(out, opts.Sinks...)
	e.sched = voice.NewScheduler(out, clock, 0)

	e.seq, err = sequencer.New(sequencer.Config{
		TotalSteps:            cfg.GetTotalSteps(),
		MotionThreshold:       cfg.GetMotionThreshold(),
		BrightnessThreshold:   cfg.GetBrightnessThreshold(),
		PadChance:             cfg.GetPadChance(),
		GlitchMotionThreshold: cfg.GetGlitchMotionThreshold(),
		Rand:                  rngFor(4),
	}, e.analyzer, e.quantizer, e.sched, e.mixer, e.transport)
	if err != nil {
		return nil, fmt.Errorf("sequencer: %w", err)
	}
	return e, nil
}

// applyVoices sets each voice's volume, mute and preset from cfg.
func applyVoices(m *voice.Mixer, cfg *config.SynthConfig) error {
	for _, id := range voice.All {
		vc := cfg.GetVoice(id.String())
		if _, err := m.SetVolume(id, vc.GetVolumeDB()); err != nil {
			return err
		}
		if err := m.SetMute(id, vc.GetMuted()); err != nil {
			return err
		}
		if name := vc.GetPreset(); name != "" {
			if err := m.SetPreset(id, name); err != nil {
				return fmt.Errorf("voice %s: %w", id, err)
			}
		}
	}
	return nil
}

func (e *Engine) begin() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return ErrRunning
	}
	e.running = true
	return nil
}

func (e *Engine) end() {
	e.runMu.Lock()
	e.running = false
	e.runMu.Unlock()
}

// Run renders and plays live until ctx is cancelled. On return the sequencer
// is detached, queued triggers have been delivered and the MIDI output is
// silenced.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	e.startRecording(e.clock.Now())

	// The scheduler must flush before the MIDI sink sends all-notes-off, so
	// the two run under separate contexts.
	pipeCtx, stopPipe := context.WithCancel(context.Background())
	defer stopPipe()
	var pipe sync.WaitGroup

	loop := compositor.NewLoop(e.clock, compositor.DisplayRate, e.cfg.GetTargetFPS(), func(time.Time) {
		e.renderFrame()
	})
	pipe.Add(2)
	go func() {
		defer pipe.Done()
		_ = loop.Run(pipeCtx)
	}()
	go func() {
		defer pipe.Done()
		e.sched.Run(pipeCtx)
	}()

	midiCtx, stopMIDI := context.WithCancel(context.Background())
	defer stopMIDI()
	var midiWG sync.WaitGroup
	if e.midi != nil {
		e.sendPrograms()
		midiWG.Add(1)
		go func() {
			defer midiWG.Done()
			e.midi.Run(midiCtx, midiServiceInterval)
		}()
	}

	if err := e.seq.Start(); err != nil {
		stopPipe()
		pipe.Wait()
		stopMIDI()
		midiWG.Wait()
		return fmt.Errorf("start sequencer: %w", err)
	}
	w, h := e.comp.Size()
	monitoring.Logf("engine running: %dx%d canvas, %.1f bpm, %s %s",
		w, h, e.transport.BPM(), e.quantizer.State().Root, e.quantizer.State().Scale)

	<-ctx.Done()

	e.seq.Stop()
	e.transport.Stop()
	stopPipe()
	pipe.Wait()
	stopMIDI()
	midiWG.Wait()

	rendered, dropped := loop.Stats()
	monitoring.Logf("engine stopped: %d frames rendered, %d dropped, %d triggers",
		rendered, dropped, e.counter.Total())
	return nil
}

// sendPrograms selects every voice's current preset on the MIDI output.
func (e *Engine) sendPrograms() {
	for _, id := range voice.All {
		name := e.mixer.Preset(id)
		if name == "" {
			continue
		}
		p, err := voice.LookupPreset(id, name)
		if err != nil {
			continue
		}
		if err := e.midi.ProgramChange(id, p.Program); err != nil {
			monitoring.Logf("engine: program change for %s failed: %v", id, err)
		}
	}
}

// OfflineStats summarises a RenderOffline run.
type OfflineStats struct {
	Frames   int
	Ticks    int
	Triggers int
	Duration time.Duration
}

// RenderOffline renders frames at fps without consulting any clock. Frame i
// sits at musical time OfflineOrigin + i/fps; sequencer ticks fall on
// sixteenth-note boundaries at the current BPM and every tick due at or
// before a frame's time runs after that frame is rendered, so each tick
// analyses the latest frame. Triggers are delivered at their tick time.
// onFrame, when non-nil, receives each frame; an error from it stops the
// render. fps <= 0 uses the configured target FPS.
func (e *Engine) RenderOffline(ctx context.Context, frames int, fps float64, onFrame func(i int, img *image.RGBA) error) (OfflineStats, error) {
	var stats OfflineStats
	if frames < 0 {
		return stats, fmt.Errorf("frame count must not be negative, got %d", frames)
	}
	if e.midi != nil {
		return stats, errors.New("offline render cannot drive a live MIDI output")
	}
	if fps <= 0 {
		fps = e.cfg.GetTargetFPS()
	}
	if err := e.begin(); err != nil {
		return stats, err
	}
	defer e.end()
	e.startRecording(OfflineOrigin)

	before := e.counter.Total()
	next := OfflineOrigin
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		now := OfflineOrigin.Add(time.Duration(float64(i) * float64(time.Second) / fps))
		img := e.renderFrame()
		for !next.After(now) {
			if err := e.seq.Tick(ctx, next); err != nil {
				e.notices.Logf("tick", "engine: offline tick skipped: %v", err)
			}
			e.sched.Dispatch(ctx, next)
			stats.Ticks++
			next = next.Add(sequencer.IntervalFor(e.transport.BPM()))
		}
		if onFrame != nil {
			if err := onFrame(i, img); err != nil {
				return stats, fmt.Errorf("frame %d: %w", i, err)
			}
		}
		stats.Frames++
	}
	e.sched.Flush(ctx)
	stats.Triggers = e.counter.Total() - before
	stats.Duration = time.Duration(float64(frames) * float64(time.Second) / fps)
	return stats, nil
}

func (e *Engine) renderFrame() *image.RGBA {
	if e.synthetic != nil {
		e.synthetic.Next()
	}
	img, _ := e.comp.Render()
	return img
}

func (e *Engine) startRecording(origin time.Time) {
	if !e.record {
		return
	}
	e.recMu.Lock()
	e.recorder = voice.NewRecorder(e.transport.BPM(), origin)
	e.recMu.Unlock()
}

func (e *Engine) recordTrigger(ctx context.Context, t voice.Trigger) error {
	e.recMu.Lock()
	rec := e.recorder
	e.recMu.Unlock()
	if rec == nil {
		return nil
	}
	return rec.TriggerNote(ctx, t)
}

// Recorder returns the score of the current or last run, or nil when
// recording is off or nothing has run yet.
func (e *Engine) Recorder() *voice.Recorder {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	return e.recorder
}

// Status is the one-line summary the HUD draws.
func (e *Engine) Status() string {
	st := e.quantizer.State()
	seq := e.seq.State()
	return fmt.Sprintf("%s %s  %.0f bpm  step %d/%d  notes %d",
		st.Root, st.Scale, e.transport.BPM(), seq.StepIndex+1, seq.TotalSteps, e.counter.Total())
}

func (e *Engine) Params() *compositor.Params         { return e.params }
func (e *Engine) Compositor() *compositor.Compositor { return e.comp }
func (e *Engine) Handoff() *scene.FrameHandoff       { return e.handoff }
func (e *Engine) Analyzer() *scene.Analyzer          { return e.analyzer }
func (e *Engine) Quantizer() *theory.Quantizer       { return e.quantizer }
func (e *Engine) Mixer() *voice.Mixer                { return e.mixer }
func (e *Engine) Transport() *sequencer.Transport    { return e.transport }
func (e *Engine) Sequencer() *sequencer.Sequencer    { return e.seq }
func (e *Engine) Counter() *voice.Counter            { return e.counter }
