package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/scenesynth/internal/compositor"
	"github.com/banshee-data/scenesynth/internal/config"
	"github.com/banshee-data/scenesynth/internal/db"
	"github.com/banshee-data/scenesynth/internal/engine"
	"github.com/banshee-data/scenesynth/internal/monitor"
	"github.com/banshee-data/scenesynth/internal/scene"
	"github.com/banshee-data/scenesynth/internal/security"
	"github.com/banshee-data/scenesynth/internal/sequencer"
	"github.com/banshee-data/scenesynth/internal/version"
	"github.com/banshee-data/scenesynth/internal/voice"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON synth config (default: "+config.DefaultConfigPath+" when present)")
	listen      = flag.String("listen", "localhost:8090", "Monitor HTTP listen address (empty disables)")
	serialPort  = flag.String("serial", "", "Serial device for DIN MIDI output (empty disables)")
	baudRate    = flag.Int("baud", voice.DINBaudRate, "Serial baud rate for MIDI output")
	dbPath      = flag.String("db", "", "SQLite score journal path (empty disables)")
	renderCount = flag.Int("render", 0, "Render N frames offline instead of running live")
	fps         = flag.Float64("fps", 0, "Offline frame rate (default: config target_fps)")
	outDir      = flag.String("out", "frames", "Directory for offline frames and live snapshots")
	smfPath     = flag.String("smf", "", "Write the performed score to this Standard MIDI File")
	plotsDir    = flag.String("plots", "", "Write per-band activity plots into this directory")
	videoPath   = flag.String("ffmpeg", "", "Encode offline frames into this MP4 with ffmpeg")
	seed        = flag.Int64("seed", 0, "Random seed (0 uses the config seed, then the clock)")
	hud         = flag.Bool("hud", true, "Draw the status line over each frame")
	debug       = flag.Bool("debug", false, "Enable diagnostic and trace logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	configureLogging(*debug)

	cfg, err := loadConfig(*configPath, *seed)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := runOptions{
		listen:    *listen,
		serial:    *serialPort,
		baud:      *baudRate,
		dbPath:    *dbPath,
		frames:    *renderCount,
		fps:       *fps,
		outDir:    *outDir,
		smfPath:   *smfPath,
		plotsDir:  *plotsDir,
		videoPath: *videoPath,
		hud:       *hud,
	}
	if opts.frames > 0 {
		err = runOffline(ctx, cfg, opts)
	} else {
		err = runLive(ctx, cfg, opts)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func configureLogging(debug bool) {
	var verbose io.Writer
	if debug {
		verbose = os.Stderr
	}
	scene.SetLogWriters(os.Stderr, verbose, verbose)
	compositor.SetLogWriters(os.Stderr, verbose, verbose)
	sequencer.SetLogWriters(verbose, verbose)
}

// loadConfig reads path, or the default config when path is empty and the
// file exists, and applies the seed override.
func loadConfig(path string, seedOverride int64) (*config.SynthConfig, error) {
	var cfg *config.SynthConfig
	switch {
	case path != "":
		c, err := config.LoadSynthConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			c, err := config.LoadSynthConfig(config.DefaultConfigPath)
			if err != nil {
				return nil, err
			}
			cfg = c
		} else {
			cfg = config.EmptySynthConfig()
		}
	}
	if seedOverride != 0 {
		cfg.Seed = &seedOverride
	}
	return cfg, nil
}

type runOptions struct {
	listen    string
	serial    string
	baud      int
	dbPath    string
	frames    int
	fps       float64
	outDir    string
	smfPath   string
	plotsDir  string
	videoPath string
	hud       bool
}

// outputPath cleans an output path. Relative paths must stay inside the
// working directory.
func outputPath(p string) (string, error) {
	if p == "" || filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	return security.ResolveOutput(".", p)
}

// openJournal opens the score journal and starts a session whose tick zero
// is startedAt (zero means now). It returns a nil sink when no journal path
// is set.
func openJournal(path string, startedAt time.Time, cfg *config.SynthConfig, e *engine.Engine) (*db.DB, *db.JournalSink, error) {
	if path == "" {
		return nil, nil, nil
	}
	journal, err := db.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}
	st := e.Quantizer().State()
	session, err := journal.StartSession(db.SessionMeta{
		StartedAt: startedAt,
		BPM:       e.Transport().BPM(),
		Root:      st.Root,
		Scale:     st.Scale,
		Rows:      cfg.GetGridRows(),
		Cols:      cfg.GetGridCols(),
	})
	if err != nil {
		journal.Close()
		return nil, nil, fmt.Errorf("failed to start session: %w", err)
	}
	log.Printf("journal session %s in %s", session.ID, path)
	return journal, journal.Journal(session.ID), nil
}

// lateSink forwards to a sink installed after the engine is built, so the
// journal session can record the engine's own BPM and key.
type lateSink struct {
	mu   sync.Mutex
	sink voice.Sink
}

func (l *lateSink) set(s voice.Sink) {
	l.mu.Lock()
	l.sink = s
	l.mu.Unlock()
}

func (l *lateSink) TriggerNote(ctx context.Context, t voice.Trigger) error {
	l.mu.Lock()
	s := l.sink
	l.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.TriggerNote(ctx, t)
}

// finish writes the score and plots that both modes produce.
func finish(e *engine.Engine, plotter *monitor.GridPlotter, opts runOptions) error {
	if opts.smfPath != "" {
		path, err := outputPath(opts.smfPath)
		if err != nil {
			return fmt.Errorf("invalid score path: %w", err)
		}
		if rec := e.Recorder(); rec != nil {
			if err := rec.WriteFile(path); err != nil {
				return fmt.Errorf("failed to write score: %w", err)
			}
			log.Printf("wrote %d notes to %s", rec.Len(), path)
		}
	}
	if plotter != nil {
		dir, err := outputPath(opts.plotsDir)
		if err != nil {
			return fmt.Errorf("invalid plots dir: %w", err)
		}
		n, err := plotter.GeneratePlots(dir)
		if err != nil {
			return fmt.Errorf("failed to generate plots: %w", err)
		}
		log.Printf("wrote %d plots to %s", n, dir)
	}
	return nil
}

func newPlotter(e *engine.Engine, dir string) *monitor.GridPlotter {
	if dir == "" {
		return nil
	}
	p := monitor.NewGridPlotter(0)
	e.Sequencer().OnGrid(p.Sample)
	return p
}

func runOffline(ctx context.Context, cfg *config.SynthConfig, opts runOptions) error {
	journalSink := &lateSink{}
	e, err := engine.New(engine.Options{
		Config: cfg,
		Sinks:  []voice.Sink{journalSink},
		HUD:    opts.hud,
		Record: opts.smfPath != "",
	})
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	journal, sink, err := openJournal(opts.dbPath, engine.OfflineOrigin, cfg, e)
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
		journalSink.set(sink)
	}
	plotter := newPlotter(e, opts.plotsDir)

	var frames *compositor.FrameWriter
	if opts.outDir != "" {
		dir, err := outputPath(opts.outDir)
		if err != nil {
			return fmt.Errorf("invalid frame dir: %w", err)
		}
		if frames, err = compositor.NewFrameWriter(dir); err != nil {
			return err
		}
	}
	if opts.videoPath != "" && frames == nil {
		return errors.New("-ffmpeg needs a frame directory (-out)")
	}

	rate := opts.fps
	if rate <= 0 {
		rate = cfg.GetTargetFPS()
	}
	stats, err := e.RenderOffline(ctx, opts.frames, rate, func(i int, img *image.RGBA) error {
		if frames == nil {
			return nil
		}
		_, err := frames.Write(img)
		return err
	})
	if err != nil {
		return fmt.Errorf("offline render: %w", err)
	}
	log.Printf("rendered %d frames (%v) with %d ticks and %d triggers",
		stats.Frames, stats.Duration, stats.Ticks, stats.Triggers)
	if sink != nil {
		log.Printf("journalled %d notes", sink.Written())
	}

	if err := finish(e, plotter, opts); err != nil {
		return err
	}

	if opts.videoPath != "" {
		out, err := outputPath(opts.videoPath)
		if err != nil {
			return fmt.Errorf("invalid video path: %w", err)
		}
		if err := compositor.EncodeVideo(ctx, compositor.VideoOptions{
			FramesDir: frames.Dir(),
			FPS:       rate,
			Output:    out,
		}); err != nil {
			return fmt.Errorf("failed to encode video: %w", err)
		}
		log.Printf("encoded %s", out)
	}
	return nil
}

func runLive(ctx context.Context, cfg *config.SynthConfig, opts runOptions) error {
	var midiOut io.WriteCloser
	if opts.serial != "" {
		var err error
		midiOut, err = voice.OpenSerialMIDI(opts.serial, voice.PortOptions{BaudRate: opts.baud}, nil)
		if err != nil {
			return fmt.Errorf("failed to open MIDI serial port: %w", err)
		}
		defer midiOut.Close()
		log.Printf("MIDI output on %s at %d baud", opts.serial, opts.baud)
	}

	journalSink := &lateSink{}
	eo := engine.Options{
		Config: cfg,
		Sinks:  []voice.Sink{journalSink},
		HUD:    opts.hud,
		Record: opts.smfPath != "",
	}
	if midiOut != nil {
		eo.MIDIOut = midiOut
	}
	e, err := engine.New(eo)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	journal, sink, err := openJournal(opts.dbPath, time.Time{}, cfg, e)
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
		journalSink.set(sink)
	}
	plotter := newPlotter(e, opts.plotsDir)

	var wg sync.WaitGroup
	if opts.listen != "" {
		snapshots := ""
		if opts.outDir != "" {
			if snapshots, err = outputPath(opts.outDir); err != nil {
				return fmt.Errorf("invalid snapshot dir: %w", err)
			}
		}
		ws, err := monitor.NewWebServer(monitor.WebServerConfig{
			Address:     opts.listen,
			Params:      e.Params(),
			Compositor:  e.Compositor(),
			Sequencer:   e.Sequencer(),
			Transport:   e.Transport(),
			Quantizer:   e.Quantizer(),
			Mixer:       e.Mixer(),
			Grid:        e.Analyzer(),
			Frames:      e.Handoff(),
			Journal:     journal,
			SnapshotDir: snapshots,
		})
		if err != nil {
			return fmt.Errorf("failed to build monitor: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				log.Printf("monitor server error: %v", err)
			}
		}()
	}

	runErr := e.Run(ctx)
	wg.Wait()
	if runErr != nil {
		return runErr
	}
	return finish(e, plotter, opts)
}
