// Package compositor renders the visual instrument: each frame folds the
// previous output back onto itself, lays the live source and overlays on
// top, then runs a fixed chain of pixel effects. The finished frame becomes
// the next frame's feedback and is published for the analyzer.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/banshee-data/scenesynth/internal/monitoring"
	"github.com/banshee-data/scenesynth/internal/scene"
)

// chaseFloor is the mean channel value a pixel must exceed to take part in
// the colour chase.
const chaseFloor = 30

// GlitchBand is a scanline displacement the glitch trigger chose for a frame.
// The band is recorded but not applied to the image.
type GlitchBand struct {
	Y      int `json:"y"`
	Height int `json:"height"`
	Offset int `json:"offset"`
}

// FrameInfo describes one rendered frame.
type FrameInfo struct {
	Index       uint64        `json:"index"`
	SourceReady bool          `json:"source_ready"`
	Shift       int           `json:"shift"`
	Glitch      *GlitchBand   `json:"glitch,omitempty"`
	Params      EffectParams  `json:"params"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Compositor owns the feedback buffer and runs the render pipeline. Render
// is meant to be called from one goroutine; the parameters and overlay list
// may be changed concurrently.
type Compositor struct {
	width, height int
	params        *Params
	source        scene.Source
	handoff       *scene.FrameHandoff
	rng           *rand.Rand
	notices       *monitoring.Throttle

	overlayMu sync.RWMutex
	overlays  []Overlay

	resetPending atomic.Bool

	// Render state, touched only by Render.
	prev     *image.RGBA
	mask     *image.Alpha
	panX     float64
	panY     float64
	rotation float64
	frame    uint64

	infoMu sync.Mutex
	last   FrameInfo
}

// New creates a compositor for a width x height canvas. A nil source draws no
// live layer, a nil handoff publishes nothing and a nil rng uses a fixed
// seed.
func New(width, height int, params *Params, source scene.Source, handoff *scene.FrameHandoff, rng *rand.Rand) (*Compositor, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", width, height)
	}
	if params == nil {
		params = NewParams(DefaultParams())
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Compositor{
		width:   width,
		height:  height,
		params:  params,
		source:  source,
		handoff: handoff,
		rng:     rng,
		notices: monitoring.NewThrottle(10*time.Second, nil),
		mask:    image.NewAlpha(image.Rect(0, 0, width, height)),
	}, nil
}

// Size returns the canvas dimensions.
func (c *Compositor) Size() (int, int) { return c.width, c.height }

// Params returns the parameter store the compositor reads.
func (c *Compositor) Params() *Params { return c.params }

// AddOverlay appends an overlay; overlays draw in the order added.
func (c *Compositor) AddOverlay(o Overlay) {
	c.overlayMu.Lock()
	c.overlays = append(c.overlays, o)
	c.overlayMu.Unlock()
}

// ClearOverlays removes every overlay.
func (c *Compositor) ClearOverlays() {
	c.overlayMu.Lock()
	c.overlays = nil
	c.overlayMu.Unlock()
}

// LastFrame returns information about the most recent Render.
func (c *Compositor) LastFrame() FrameInfo {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.last
}

// Reset drops the feedback buffer and the accumulated pan and rotation. It
// takes effect at the start of the next Render and is safe to call from any
// goroutine.
func (c *Compositor) Reset() {
	c.resetPending.Store(true)
}

// Render produces one frame. The returned image belongs to the caller.
func (c *Compositor) Render() (*image.RGBA, FrameInfo) {
	start := time.Now()
	p := c.params.Get()
	info := FrameInfo{Index: c.frame, Params: p}

	if c.resetPending.Swap(false) {
		c.prev = nil
		c.panX, c.panY, c.rotation = 0, 0, 0
	}
	c.advanceMotion(p)

	var out *image.RGBA
	if p.Kaleidoscope > 0 {
		layer := c.renderLayer(p, &info)
		out = c.kaleidoscope(layer, p.Kaleidoscope)
	} else {
		out = c.renderLayer(p, &info)
	}

	info.Shift = c.colorPass(out, p)
	if p.ColorChase > 0 {
		colorChase(out, p, c.frame)
	}
	if p.PixelSize > 1 {
		pixelate(out, p.PixelSize)
	}
	info.Glitch = c.glitchTrigger(p)

	// Capture.
	if c.prev == nil {
		c.prev = image.NewRGBA(out.Rect)
	}
	copy(c.prev.Pix, out.Pix)
	if c.handoff != nil {
		c.handoff.Publish(out)
	}

	info.Elapsed = time.Since(start)
	c.frame++
	c.infoMu.Lock()
	c.last = info
	c.infoMu.Unlock()
	tracef("frame %d source=%t shift=%d kaleido=%d in %v", info.Index, info.SourceReady, info.Shift, p.Kaleidoscope, info.Elapsed)
	return out, info
}

// advanceMotion accumulates pan and rotation for this frame, wrapping pan at
// the canvas size and rotation at a full turn.
func (c *Compositor) advanceMotion(p EffectParams) {
	c.panX = wrap(c.panX+p.PanX, float64(c.width))
	c.panY = wrap(c.panY+p.PanY, float64(c.height))
	c.rotation = wrap(c.rotation+p.RotationSpeed, 360)
}

// wrap folds v into (-limit, limit).
func wrap(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Mod(v, limit)
}

// renderLayer runs the clear, feedback, new-frame and overlay passes onto a
// fresh canvas.
func (c *Compositor) renderLayer(p EffectParams, info *FrameInfo) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	dc := gg.NewContextForRGBA(dst)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	if p.Feedback > 0 && c.prev != nil {
		c.drawFeedback(dc, p)
	}

	if c.source != nil {
		if img, ok := c.source.Frame(); ok && img != nil && !img.Bounds().Empty() {
			drawFrame(dst, img)
			info.SourceReady = true
		} else {
			c.notices.Logf("source", "compositor: %v, drawing without live layer", scene.ErrSourceUnavailable)
		}
	}

	c.overlayMu.RLock()
	overlays := append([]Overlay(nil), c.overlays...)
	c.overlayMu.RUnlock()
	for _, o := range overlays {
		dc.Push()
		o.Draw(dc, c.width, c.height)
		dc.Pop()
	}
	return dst
}

// drawFeedback draws the previous output about the canvas centre, shifted by
// the accumulated pan, rotated and scaled, at the feedback opacity.
func (c *Compositor) drawFeedback(dc *gg.Context, p EffectParams) {
	a := uint8(math.Round(p.Feedback * 255))
	for i := range c.mask.Pix {
		c.mask.Pix[i] = a
	}
	if err := dc.SetMask(c.mask); err != nil {
		c.notices.Logf("mask", "compositor: feedback mask: %v", err)
		return
	}
	cx, cy := float64(c.width)/2, float64(c.height)/2
	dc.Push()
	dc.Translate(cx+c.panX, cy+c.panY)
	dc.Rotate(gg.Radians(c.rotation))
	dc.Scale(p.FeedbackZoom, p.FeedbackZoom)
	dc.Translate(-cx, -cy)
	dc.DrawImage(c.prev, 0, 0)
	dc.Pop()
	dc.ResetClip()
}

// drawFrame draws img over dst, scaled to fill it.
func drawFrame(dst *image.RGBA, img image.Image) {
	if img.Bounds().Size() == dst.Bounds().Size() {
		xdraw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, xdraw.Over)
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
}

// kaleidoscope draws k copies of layer rotated by i*360/k about the centre,
// mirroring the odd ones horizontally, and merges them with lighten.
func (c *Compositor) kaleidoscope(layer *image.RGBA, k int) *image.RGBA {
	out := image.NewRGBA(layer.Rect)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	cx, cy := float64(c.width)/2, float64(c.height)/2
	for i := 0; i < k; i++ {
		wedge := gg.NewContext(c.width, c.height)
		wedge.Translate(cx, cy)
		wedge.Rotate(float64(i) * 2 * math.Pi / float64(k))
		if i%2 == 1 {
			wedge.Scale(-1, 1)
		}
		wedge.Translate(-cx, -cy)
		wedge.DrawImage(layer, 0, 0)
		lighten(out, wedge.Image().(*image.RGBA))
	}
	return out
}

// lighten merges src into dst keeping the larger value of every channel.
func lighten(dst, src *image.RGBA) {
	for i := range dst.Pix {
		if src.Pix[i] > dst.Pix[i] {
			dst.Pix[i] = src.Pix[i]
		}
	}
}

// colorPass applies the RGB shift, contrast and brightness, R/G hue rotation
// and invert, in that order. It returns the shift used. When every stage is
// an identity the image is left untouched.
func (c *Compositor) colorPass(img *image.RGBA, p EffectParams) int {
	shift := int(p.RGBShift)
	if p.GlitchProb > 0 {
		shift = int(math.Floor(p.RGBShift + c.rng.Float64()*10*p.GlitchProb))
	}
	if p.colorIdentity(shift) {
		return shift
	}

	src := img.Pix
	if shift > 0 {
		src = append([]uint8(nil), img.Pix...)
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	sin, cos := math.Sincos(p.HueShift * math.Pi / 180)
	hue := p.HueShift != 0

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			i := row + x*4
			r, g, b := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
			if shift > 0 {
				if x+shift < w {
					r = float64(src[i+shift*4])
				}
				if x-shift >= 0 {
					b = float64(src[i-shift*4+2])
				}
			}
			r = contrastBrightness(r, p.Contrast, p.Brightness)
			g = contrastBrightness(g, p.Contrast, p.Brightness)
			b = contrastBrightness(b, p.Contrast, p.Brightness)
			if hue {
				r, g = r*cos-g*sin, r*sin+g*cos
			}
			if p.Invert > 0 {
				r = r*(1-p.Invert) + (255-r)*p.Invert
				g = g*(1-p.Invert) + (255-g)*p.Invert
				b = b*(1-p.Invert) + (255-b)*p.Invert
			}
			img.Pix[i] = clampByte(r)
			img.Pix[i+1] = clampByte(g)
			img.Pix[i+2] = clampByte(b)
		}
	}
	return shift
}

func contrastBrightness(v, contrast, brightness float64) float64 {
	return ((v/255-0.5)*contrast + 0.5) * 255 * brightness
}

func clampByte(v float64) uint8 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// colorChase pulls every bright interior pixel toward its brightest
// neighbour and rotates its R/G hue by a phase that travels across the
// image over time. Neighbours are read from a snapshot taken first.
func colorChase(img *image.RGBA, p EffectParams, frame uint64) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w < 3 || h < 3 {
		return
	}
	snap := append([]uint8(nil), img.Pix...)
	amount := math.Min(1, p.ColorChase*p.ColorChaseSpeed*0.3)
	stride := img.Stride
	sum := func(i int) int { return int(snap[i]) + int(snap[i+1]) + int(snap[i+2]) }

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*stride + x*4
			if sum(i) <= chaseFloor*3 {
				continue
			}
			best, bestSum := -1, -1
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					j := (y+dy)*stride + (x+dx)*4
					if s := sum(j); s > bestSum {
						best, bestSum = j, s
					}
				}
			}
			r := float64(snap[i]) + (float64(snap[best])-float64(snap[i]))*amount
			g := float64(snap[i+1]) + (float64(snap[best+1])-float64(snap[i+1]))*amount
			b := float64(snap[i+2]) + (float64(snap[best+2])-float64(snap[i+2]))*amount

			phase := (float64(x+y)*p.ColorChaseSpeed*0.5 + float64(frame)*p.ColorChaseSpeed*2) * math.Pi / 180
			sin, cos := math.Sincos(phase)
			r, g = r*cos-g*sin, r*sin+g*cos

			img.Pix[i] = clampByte(r)
			img.Pix[i+1] = clampByte(g)
			img.Pix[i+2] = clampByte(b)
		}
	}
}

// pixelate flat-fills size x size blocks with their top-left pixel.
func pixelate(img *image.RGBA, size int) {
	b := img.Rect
	for by := b.Min.Y; by < b.Max.Y; by += size {
		for bx := b.Min.X; bx < b.Max.X; bx += size {
			c := img.RGBAAt(bx, by)
			fillBlock(img, image.Rect(bx, by, bx+size, by+size).Intersect(b), c)
		}
	}
}

func fillBlock(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// glitchTrigger picks a scanline band with probability GlitchProb.
func (c *Compositor) glitchTrigger(p EffectParams) *GlitchBand {
	if p.GlitchProb <= 0 || c.rng.Float64() >= p.GlitchProb {
		return nil
	}
	band := &GlitchBand{
		Y:      c.rng.Intn(c.height),
		Height: c.rng.Intn(50) + 1,
		Offset: int(math.Floor((c.rng.Float64() - 0.5) * 100)),
	}
	tracef("glitch band y=%d h=%d offset=%d", band.Y, band.Height, band.Offset)
	return band
}
