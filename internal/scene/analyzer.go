// Package scene reduces video frames to a coarse grid of brightness and
// motion, and carries frames between the render loop and the analyzer.
package scene

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"golang.org/x/image/draw"
)

// ErrSourceUnavailable is returned by Analyze when the frame source has no
// frame ready. The analyzer's history is left untouched.
var ErrSourceUnavailable = errors.New("frame source unavailable")

// boxKernel averages every source pixel under a destination pixel with equal
// weight. x/image/draw widens the support by the downscale factor, so this
// gives an exact area mean per cell.
var boxKernel = &draw.Kernel{Support: 0.5, At: func(float64) float64 { return 1 }}

// Analyzer downsamples frames to a fixed Rows x Cols grid and measures how
// much each cell changed since the previous call.
type Analyzer struct {
	src  Source
	rows int
	cols int

	mu    sync.Mutex
	small *image.RGBA
	prev  []uint8 // rows*cols*3, nil until the first successful call
	last  Grid
	calls uint64
}

// NewAnalyzer creates an analyzer for src with the given grid dimensions.
func NewAnalyzer(src Source, rows, cols int) (*Analyzer, error) {
	if src == nil {
		return nil, fmt.Errorf("analyzer requires a frame source")
	}
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("grid must be at least 1x1, got %dx%d", rows, cols)
	}
	diagf("analyzer created: %dx%d grid", rows, cols)
	return &Analyzer{
		src:   src,
		rows:  rows,
		cols:  cols,
		small: image.NewRGBA(image.Rect(0, 0, cols, rows)),
	}, nil
}

// Rows returns the grid row count.
func (a *Analyzer) Rows() int { return a.rows }

// Cols returns the grid column count.
func (a *Analyzer) Cols() int { return a.cols }

// Analyze reads the current frame and returns a fresh grid. Motion is zero
// on the first successful call.
func (a *Analyzer) Analyze() (Grid, error) {
	img, ok := a.src.Frame()
	if !ok || img == nil {
		return Grid{}, ErrSourceUnavailable
	}
	if img.Bounds().Empty() {
		opsf("source returned an empty frame")
		return Grid{}, ErrSourceUnavailable
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	boxKernel.Scale(a.small, a.small.Bounds(), img, img.Bounds(), draw.Src, nil)

	n := a.rows * a.cols
	cur := make([]uint8, n*3)
	grid := Grid{Rows: a.rows, Cols: a.cols, Cells: make([]Cell, n)}
	for y := 0; y < a.rows; y++ {
		for x := 0; x < a.cols; x++ {
			i := y*a.cols + x
			off := a.small.PixOffset(x, y)
			r, g, b := a.small.Pix[off], a.small.Pix[off+1], a.small.Pix[off+2]
			cur[i*3], cur[i*3+1], cur[i*3+2] = r, g, b

			cell := Cell{
				X: x, Y: y, R: r, G: g, B: b,
				Brightness: (float64(r) + float64(g) + float64(b)) / 3 / 255,
			}
			if a.prev != nil {
				dr := math.Abs(float64(r) - float64(a.prev[i*3]))
				dg := math.Abs(float64(g) - float64(a.prev[i*3+1]))
				db := math.Abs(float64(b) - float64(a.prev[i*3+2]))
				cell.Motion = (dr + dg + db) / 3 / 255
			}
			grid.Cells[i] = cell
		}
	}
	a.prev = cur
	a.last = grid
	a.calls++
	tracef("grid %d: mean motion %.3f, mean brightness %.3f", a.calls, grid.MeanMotion(), grid.MeanBrightness())
	return grid, nil
}

// Last returns a copy of the most recent grid and whether one exists.
func (a *Analyzer) Last() (Grid, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last.Cells == nil {
		return Grid{}, false
	}
	return a.last.Clone(), true
}

// Reset discards motion history so the next call reports zero motion.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.prev = nil
	a.mu.Unlock()
	diagf("analyzer history reset")
}
