package scene

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fogleman/gg"
)

// Source supplies frames to the analyzer and the compositor. Frame returns
// false while no frame is ready (device not started, stream lost).
type Source interface {
	Frame() (image.Image, bool)
}

// Snapshot is an immutable published frame.
type Snapshot struct {
	Image   *image.RGBA
	Seq     uint64
	Created time.Time
}

// FrameHandoff passes composited frames from the render loop to the
// analyzer. Publish copies the frame, so the writer may keep drawing into
// its own buffer; readers always see a complete frame.
type FrameHandoff struct {
	latest atomic.Pointer[Snapshot]
	seq    atomic.Uint64
}

// NewFrameHandoff creates an empty handoff.
func NewFrameHandoff() *FrameHandoff {
	return &FrameHandoff{}
}

// Publish stores a copy of img as the latest frame and returns its sequence
// number.
func (h *FrameHandoff) Publish(img *image.RGBA) uint64 {
	if img == nil {
		return h.seq.Load()
	}
	cp := image.NewRGBA(img.Bounds())
	copy(cp.Pix, img.Pix)
	seq := h.seq.Add(1)
	h.latest.Store(&Snapshot{Image: cp, Seq: seq, Created: time.Now()})
	return seq
}

// Latest returns the most recent snapshot, or nil before the first Publish.
func (h *FrameHandoff) Latest() *Snapshot {
	return h.latest.Load()
}

// Frame implements Source.
func (h *FrameHandoff) Frame() (image.Image, bool) {
	s := h.latest.Load()
	if s == nil {
		return nil, false
	}
	return s.Image, true
}

// Blob is a moving disc drawn by SyntheticSource.
type Blob struct {
	X, Y   float64 // centre, pixels
	VX, VY float64 // velocity, pixels per frame
	Radius float64
	Colour color.RGBA
}

// SyntheticSource renders coloured discs bouncing over a dark background. It
// stands in for a camera in demos, offline renders and tests.
type SyntheticSource struct {
	mu     sync.Mutex
	width  int
	height int
	blobs  []Blob
	frame  *image.RGBA
	frameN uint64
	ready  atomic.Bool

	// Background is the fill colour behind the blobs.
	Background color.RGBA
}

// NewSyntheticSource creates a source of the given size with count blobs
// placed by rng. A nil rng uses a time-based seed.
func NewSyntheticSource(width, height, count int, rng *rand.Rand) *SyntheticSource {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &SyntheticSource{
		width:      width,
		height:     height,
		Background: color.RGBA{10, 10, 20, 255},
	}
	minDim := math.Min(float64(width), float64(height))
	for i := 0; i < count; i++ {
		hue := float64(i) / math.Max(1, float64(count))
		r, g, b := hslToRGB(hue, 0.8, 0.55)
		s.blobs = append(s.blobs, Blob{
			X:      rng.Float64() * float64(width),
			Y:      rng.Float64() * float64(height),
			VX:     (rng.Float64()*2 - 1) * minDim * 0.02,
			VY:     (rng.Float64()*2 - 1) * minDim * 0.02,
			Radius: minDim * (0.05 + rng.Float64()*0.1),
			Colour: color.RGBA{r, g, b, 255},
		})
	}
	s.ready.Store(true)
	return s
}

// SetBlobs replaces the blob set. Tests use it to build exact scenes.
func (s *SyntheticSource) SetBlobs(blobs []Blob) {
	s.mu.Lock()
	s.blobs = append([]Blob(nil), blobs...)
	s.frame = nil
	s.mu.Unlock()
}

// SetReady toggles availability, simulating a device that drops out.
func (s *SyntheticSource) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Next advances the blobs one frame, bouncing off the edges, and renders.
func (s *SyntheticSource) Next() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.blobs {
		b := &s.blobs[i]
		b.X += b.VX
		b.Y += b.VY
		if b.X < 0 || b.X > float64(s.width) {
			b.VX = -b.VX
			b.X = math.Max(0, math.Min(float64(s.width), b.X))
		}
		if b.Y < 0 || b.Y > float64(s.height) {
			b.VY = -b.VY
			b.Y = math.Max(0, math.Min(float64(s.height), b.Y))
		}
	}
	s.frameN++
	s.frame = s.renderLocked()
	return s.frame
}

// Frame implements Source. It renders the current positions on first use.
func (s *SyntheticSource) Frame() (image.Image, bool) {
	if !s.ready.Load() {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		s.frame = s.renderLocked()
	}
	return s.frame, true
}

func (s *SyntheticSource) renderLocked() *image.RGBA {
	dc := gg.NewContext(s.width, s.height)
	dc.SetColor(s.Background)
	dc.Clear()
	for _, b := range s.blobs {
		dc.SetColor(b.Colour)
		dc.DrawCircle(b.X, b.Y, b.Radius)
		dc.Fill()
	}
	out := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(out, out.Bounds(), dc.Image(), image.Point{}, draw.Src)
	return out
}

// StaticSource always returns the same image. Useful for fixed test scenes.
type StaticSource struct {
	Image image.Image
}

// Frame implements Source.
func (s StaticSource) Frame() (image.Image, bool) {
	return s.Image, s.Image != nil
}

// hslToRGB converts HSL (all in [0,1]) to 8-bit RGB.
func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	var r, g, b float64
	if s == 0 {
		r, g, b = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		r = hueToRGB(p, q, h+1.0/3.0)
		g = hueToRGB(p, q, h)
		b = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(r * 255), uint8(g * 255), uint8(b * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
