package scene

import (
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scenesynth/internal/testutil"
)

// switchSource serves whatever frame the test last assigned.
type switchSource struct {
	img   image.Image
	ready bool
}

func (s *switchSource) Frame() (image.Image, bool) { return s.img, s.ready }

func randomFrame(rng *rand.Rand, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func TestNewAnalyzer_Invalid(t *testing.T) {
	_, err := NewAnalyzer(nil, 4, 4)
	assert.Error(t, err)
	_, err = NewAnalyzer(&switchSource{}, 0, 4)
	assert.Error(t, err)
	_, err = NewAnalyzer(&switchSource{}, 4, -1)
	assert.Error(t, err)
}

func TestAnalyze_GridShapeAndRanges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := &switchSource{ready: true}
	a, err := NewAnalyzer(src, 3, 5)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		src.img = randomFrame(rng, 97, 61)
		g, err := a.Analyze()
		require.NoError(t, err)
		require.Len(t, g.Cells, 15)
		assert.Equal(t, 3, g.Rows)
		assert.Equal(t, 5, g.Cols)
		for idx, c := range g.Cells {
			assert.Equal(t, idx%5, c.X)
			assert.Equal(t, idx/5, c.Y)
			assert.GreaterOrEqual(t, c.Brightness, 0.0)
			assert.LessOrEqual(t, c.Brightness, 1.0)
			assert.GreaterOrEqual(t, c.Motion, 0.0)
			assert.LessOrEqual(t, c.Motion, 1.0)
		}
	}
}

func TestAnalyze_FirstCallHasNoMotion(t *testing.T) {
	src := &switchSource{ready: true, img: testutil.SolidFrame(40, 40, color.RGBA{255, 255, 255, 255})}
	a, err := NewAnalyzer(src, 4, 4)
	require.NoError(t, err)

	g, err := a.Analyze()
	require.NoError(t, err)
	for _, c := range g.Cells {
		assert.Zero(t, c.Motion)
		assert.InDelta(t, 1.0, c.Brightness, 1e-9)
	}
}

func TestAnalyze_BrightnessAndMotion(t *testing.T) {
	src := &switchSource{ready: true, img: testutil.SolidFrame(40, 40, color.RGBA{30, 60, 90, 255})}
	a, err := NewAnalyzer(src, 4, 4)
	require.NoError(t, err)

	g, err := a.Analyze()
	require.NoError(t, err)
	assert.InDelta(t, 60.0/255.0, g.Cell(2, 2).Brightness, 1.0/255.0)
	assert.InDelta(t, 30, int(g.Cell(0, 0).R), 1)

	// Only the cell at column 1, row 3 changes.
	next := testutil.SolidFrame(40, 40, color.RGBA{30, 60, 90, 255})
	testutil.FillRect(next, image.Rect(10, 30, 20, 40), color.RGBA{255, 255, 255, 255})
	src.img = next

	g, err = a.Analyze()
	require.NoError(t, err)
	for _, c := range g.Cells {
		if c.X == 1 && c.Y == 3 {
			want := (225.0 + 195.0 + 165.0) / 3 / 255
			assert.InDelta(t, want, c.Motion, 0.01)
			continue
		}
		assert.InDelta(t, 0, c.Motion, 1e-9, "cell %d,%d", c.X, c.Y)
	}

	last, ok := a.Last()
	require.True(t, ok)
	assert.Equal(t, g, last)
}

func TestAnalyze_UnavailableKeepsHistory(t *testing.T) {
	black := testutil.SolidFrame(16, 16, color.RGBA{0, 0, 0, 255})
	white := testutil.SolidFrame(16, 16, color.RGBA{255, 255, 255, 255})
	src := &switchSource{ready: true, img: black}
	a, err := NewAnalyzer(src, 2, 2)
	require.NoError(t, err)

	_, err = a.Analyze()
	require.NoError(t, err)

	src.ready = false
	_, err = a.Analyze()
	assert.True(t, errors.Is(err, ErrSourceUnavailable))

	src.ready, src.img = true, white
	g, err := a.Analyze()
	require.NoError(t, err)
	for _, c := range g.Cells {
		assert.InDelta(t, 1.0, c.Motion, 1e-9, "motion is measured against the last good frame")
	}
}

func TestAnalyze_EmptyFrame(t *testing.T) {
	src := &switchSource{ready: true, img: image.NewRGBA(image.Rectangle{})}
	a, err := NewAnalyzer(src, 2, 2)
	require.NoError(t, err)
	_, err = a.Analyze()
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	_, ok := a.Last()
	assert.False(t, ok)
}

func TestAnalyzer_Reset(t *testing.T) {
	src := &switchSource{ready: true, img: testutil.SolidFrame(8, 8, color.RGBA{0, 0, 0, 255})}
	a, err := NewAnalyzer(src, 1, 1)
	require.NoError(t, err)
	_, err = a.Analyze()
	require.NoError(t, err)

	a.Reset()
	src.img = testutil.SolidFrame(8, 8, color.RGBA{200, 200, 200, 255})
	g, err := a.Analyze()
	require.NoError(t, err)
	assert.Zero(t, g.Cells[0].Motion)
}

func TestGridHelpers(t *testing.T) {
	src := &switchSource{ready: true, img: testutil.GridFrame(30, 20, 2, 3, func(x, y int) color.RGBA {
		v := uint8(51 * (x + y*3))
		return color.RGBA{v, v, v, 255}
	})}
	a, err := NewAnalyzer(src, 2, 3)
	require.NoError(t, err)
	g, err := a.Analyze()
	require.NoError(t, err)

	col := g.Column(1)
	require.Len(t, col, 2)
	assert.Equal(t, 0, col[0].Y)
	assert.Equal(t, 1, col[1].Y)
	assert.Equal(t, 1, col[1].X)

	row := g.Row(1)
	require.Len(t, row, 3)
	assert.Equal(t, 2, row[2].X)

	// brightness values are 0, .2, .4, .6, .8, 1.0
	assert.InDelta(t, 0.5, g.MeanBrightness(), 0.01)
	assert.Zero(t, g.MeanMotion())

	_, rowBright := g.RowMeans()
	assert.InDelta(t, 0.2, rowBright[0], 0.01)
	assert.InDelta(t, 0.8, rowBright[1], 0.01)

	clone := g.Clone()
	clone.Cells[0].Motion = 1
	assert.Zero(t, g.Cells[0].Motion)
}
