package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/scenesynth/internal/scene"
	"github.com/banshee-data/scenesynth/internal/sequencer"
)

// BandSample is the mean activity of each band at one sequencer step.
type BandSample struct {
	Step       int
	Column     int
	Motion     [3]float64
	Brightness [3]float64
}

// GridPlotter records per-band grid activity over a run and renders it as
// line charts. Hook Sample to the sequencer's grid callback.
type GridPlotter struct {
	mu      sync.Mutex
	samples []BandSample
	limit   int
}

// NewGridPlotter keeps at most limit samples (oldest dropped); limit <= 0
// keeps everything.
func NewGridPlotter(limit int) *GridPlotter {
	return &GridPlotter{limit: limit}
}

// Sample records the band means of g. column is the column the sequencer
// played from it.
func (gp *GridPlotter) Sample(g scene.Grid, column int) {
	if g.Rows == 0 || g.Cols == 0 {
		return
	}
	var s BandSample
	var counts [3]int
	for _, c := range g.Cells {
		b := sequencer.BandFor(c.Y, g.Rows)
		s.Motion[b] += c.Motion
		s.Brightness[b] += c.Brightness
		counts[b]++
	}
	for b, n := range counts {
		if n > 0 {
			s.Motion[b] /= float64(n)
			s.Brightness[b] /= float64(n)
		}
	}
	s.Column = column

	gp.mu.Lock()
	defer gp.mu.Unlock()
	s.Step = len(gp.samples)
	if n := len(gp.samples); n > 0 {
		s.Step = gp.samples[n-1].Step + 1
	}
	gp.samples = append(gp.samples, s)
	if gp.limit > 0 && len(gp.samples) > gp.limit {
		gp.samples = gp.samples[len(gp.samples)-gp.limit:]
	}
}

// Samples returns a copy of the recorded samples.
func (gp *GridPlotter) Samples() []BandSample {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return append([]BandSample(nil), gp.samples...)
}

var bandColors = [3]color.Color{
	color.RGBA{R: 230, G: 80, B: 60, A: 255},
	color.RGBA{R: 60, G: 160, B: 90, A: 255},
	color.RGBA{R: 50, G: 100, B: 220, A: 255},
}

// GeneratePlots writes band_motion.png and band_brightness.png into dir and
// returns the number of files written.
func (gp *GridPlotter) GeneratePlots(dir string) (int, error) {
	samples := gp.Samples()
	if len(samples) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	specs := []struct {
		file  string
		title string
		value func(BandSample, sequencer.Band) float64
	}{
		{"band_motion.png", "Band motion", func(s BandSample, b sequencer.Band) float64 { return s.Motion[b] }},
		{"band_brightness.png", "Band brightness", func(s BandSample, b sequencer.Band) float64 { return s.Brightness[b] }},
	}

	written := 0
	for _, c := range specs {
		p := plot.New()
		p.Title.Text = c.title
		p.X.Label.Text = "Step"
		p.Y.Label.Text = "Mean"
		p.Y.Min, p.Y.Max = 0, 1

		for _, band := range sequencer.Bands {
			pts := make(plotter.XYs, len(samples))
			for i, s := range samples {
				pts[i] = plotter.XY{X: float64(s.Step), Y: c.value(s, band)}
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return written, fmt.Errorf("%s %s line: %w", c.file, band, err)
			}
			line.Color = bandColors[band]
			line.Width = vg.Points(1)
			p.Add(line)
			p.Legend.Add(band.String(), line)
		}
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10

		if err := p.Save(14*vg.Inch, 6*vg.Inch, filepath.Join(dir, c.file)); err != nil {
			return written, fmt.Errorf("save %s: %w", c.file, err)
		}
		written++
	}
	return written, nil
}
