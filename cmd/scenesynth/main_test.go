package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/scenesynth/internal/config"
	"github.com/banshee-data/scenesynth/internal/db"
	"github.com/banshee-data/scenesynth/internal/engine"
	"github.com/banshee-data/scenesynth/internal/voice"
)

const smallConfig = `{
  "bpm": 120,
  "seed": 3,
  "canvas_width": 64,
  "canvas_height": 48,
  "effects": {"feedback": 0.5}
}`

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "synth.json")
	if err := os.WriteFile(path, []byte(smallConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFlagDefaults(t *testing.T) {
	if *listen != "localhost:8090" {
		t.Errorf("expected listen default localhost:8090, got %q", *listen)
	}
	if *baudRate != voice.DINBaudRate {
		t.Errorf("expected baud default %d, got %d", voice.DINBaudRate, *baudRate)
	}
	if *renderCount != 0 {
		t.Errorf("expected live mode by default, got render=%d", *renderCount)
	}
	if *serialPort != "" || *dbPath != "" || *smfPath != "" {
		t.Error("serial, db and smf outputs should be disabled by default")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	cfg, err := loadConfig(path, 0)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetSeed() != 3 || cfg.GetCanvasWidth() != 64 {
		t.Errorf("unexpected config: seed=%d width=%d", cfg.GetSeed(), cfg.GetCanvasWidth())
	}

	cfg, err = loadConfig(path, 99)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetSeed() != 99 {
		t.Errorf("seed override not applied, got %d", cfg.GetSeed())
	}

	if _, err := loadConfig(filepath.Join(dir, "missing.json"), 0); err == nil {
		t.Error("expected error for missing config")
	}

	// Without a path and without the default file, built-in defaults apply.
	t.Chdir(dir)
	cfg, err = loadConfig("", 0)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetBPM() != 120 || cfg.GetCanvasWidth() != 640 {
		t.Errorf("expected defaults, got bpm=%v width=%d", cfg.GetBPM(), cfg.GetCanvasWidth())
	}

	if err := os.MkdirAll(filepath.Dir(config.DefaultConfigPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(config.DefaultConfigPath, []byte(`{"bpm": 90}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig("", 0)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetBPM() != 90 {
		t.Errorf("expected default config file to be used, got bpm=%v", cfg.GetBPM())
	}
}

func TestOutputPath(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := outputPath("../escape.mid"); err == nil {
		t.Error("expected relative path escaping the working directory to be rejected")
	}
	got, err := outputPath("out/score.mid")
	if err != nil {
		t.Fatalf("outputPath: %v", err)
	}
	if got != filepath.Join("out", "score.mid") {
		t.Errorf("unexpected resolved path %q", got)
	}
	abs := filepath.Join(t.TempDir(), "x.mid")
	if got, err := outputPath(abs); err != nil || got != abs {
		t.Errorf("absolute path should pass through, got %q, %v", got, err)
	}
}

func TestRunOffline(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(writeConfig(t, dir), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	opts := runOptions{
		dbPath:   "journal.db",
		frames:   16,
		fps:      8,
		outDir:   "frames",
		smfPath:  "score.mid",
		plotsDir: "plots",
		hud:      true,
	}
	if err := runOffline(context.Background(), cfg, opts); err != nil {
		t.Fatalf("runOffline: %v", err)
	}

	frames, err := filepath.Glob(filepath.Join(dir, "frames", "*.png"))
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 16 {
		t.Errorf("expected 16 frames, got %d", len(frames))
	}
	for _, name := range []string{"score.mid", "plots/band_motion.png", "plots/band_brightness.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	journal, err := db.Open(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer journal.Close()
	sessions, err := journal.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
	if !sessions[0].StartedAt.Equal(engine.OfflineOrigin) {
		t.Errorf("offline session should start at the render origin, got %v", sessions[0].StartedAt)
	}
}

func TestRunOffline_VideoNeedsFrames(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(writeConfig(t, dir), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	err = runOffline(context.Background(), cfg, runOptions{frames: 1, videoPath: "out.mp4"})
	if err == nil {
		t.Fatal("expected an error when encoding without a frame directory")
	}
}
