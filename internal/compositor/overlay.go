package compositor

import (
	"fmt"
	"image/color"
	"math"
	"math/rand"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Overlay draws externally supplied content on top of the live layer. The
// context is saved before and restored after each call.
type Overlay interface {
	Draw(dc *gg.Context, width, height int)
}

// OverlayFunc adapts a function to Overlay.
type OverlayFunc func(dc *gg.Context, width, height int)

// Draw implements Overlay.
func (f OverlayFunc) Draw(dc *gg.Context, width, height int) { f(dc, width, height) }

// HUD draws a one-line status bar in the top-left corner.
type HUD struct {
	face   font.Face
	status func() string
}

// NewHUD creates a HUD that prints status() every frame using the Go Regular
// face at size points.
func NewHUD(size float64, status func() string) (*HUD, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse hud font: %w", err)
	}
	if size <= 0 {
		size = 14
	}
	return &HUD{face: truetype.NewFace(f, &truetype.Options{Size: size}), status: status}, nil
}

// Draw implements Overlay.
func (h *HUD) Draw(dc *gg.Context, width, height int) {
	if h.status == nil {
		return
	}
	text := h.status()
	if text == "" {
		return
	}
	dc.SetFontFace(h.face)
	tw, th := dc.MeasureString(text)
	dc.SetRGBA(0, 0, 0, 0.5)
	dc.DrawRectangle(4, 4, tw+12, th+10)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(text, 10, 9+th/2, 0, 0.5)
}

// ShapeKind names a drawable shape.
type ShapeKind string

const (
	ShapeCircle   ShapeKind = "circle"
	ShapeTriangle ShapeKind = "triangle"
	ShapeSquare   ShapeKind = "square"
	ShapePentagon ShapeKind = "pentagon"
	ShapeHexagon  ShapeKind = "hexagon"
	ShapeOctagon  ShapeKind = "octagon"
	ShapeStar     ShapeKind = "star5"
	ShapeCube     ShapeKind = "cube"
)

// ShapeKinds lists every kind Add accepts.
var ShapeKinds = []ShapeKind{ShapeCircle, ShapeTriangle, ShapeSquare, ShapePentagon, ShapeHexagon, ShapeOctagon, ShapeStar, ShapeCube}

var polygonSides = map[ShapeKind]int{
	ShapeTriangle: 3,
	ShapeSquare:   4,
	ShapePentagon: 5,
	ShapeHexagon:  6,
	ShapeOctagon:  8,
}

// Shape is one outlined figure centred at (X, Y) in canvas fractions.
type Shape struct {
	Kind     ShapeKind  `json:"kind"`
	X        float64    `json:"x"`
	Y        float64    `json:"y"`
	Hue      float64    `json:"hue"`
	Rotation float64    `json:"rotation"`
	Spin     [3]float64 `json:"-"`
	angles   [3]float64
}

// Shapes is an overlay of slowly spinning outlined figures. Sizes are a
// fraction of the shorter canvas side.
type Shapes struct {
	mu         sync.Mutex
	rng        *rand.Rand
	shapes     []Shape
	Size       float64
	LineWidth  float64
	SpinSpeed  float64 // degrees per frame
	ColorSpeed float64 // hue degrees per frame
}

// NewShapes creates an empty shape overlay.
func NewShapes(rng *rand.Rand) *Shapes {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Shapes{rng: rng, Size: 0.15, LineWidth: 3}
}

// Add places a shape of the given kind at the centre; an empty kind picks
// one at random.
func (s *Shapes) Add(kind ShapeKind) (Shape, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == "" {
		kind = ShapeKinds[s.rng.Intn(len(ShapeKinds))]
	}
	if !validShape(kind) {
		return Shape{}, fmt.Errorf("unknown shape %q", kind)
	}
	sh := Shape{Kind: kind, X: 0.5, Y: 0.5, Hue: s.rng.Float64() * 360}
	for i := range sh.Spin {
		sh.Spin[i] = (s.rng.Float64() - 0.5) * 0.02
	}
	s.shapes = append(s.shapes, sh)
	return sh, nil
}

func validShape(k ShapeKind) bool {
	for _, v := range ShapeKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Clear removes every shape.
func (s *Shapes) Clear() {
	s.mu.Lock()
	s.shapes = nil
	s.mu.Unlock()
}

// Len returns the number of shapes.
func (s *Shapes) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shapes)
}

// Draw implements Overlay. Each call also advances the animation one frame.
func (s *Shapes) Draw(dc *gg.Context, width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.Size * math.Min(float64(width), float64(height))
	for i := range s.shapes {
		sh := &s.shapes[i]
		sh.Rotation = math.Mod(sh.Rotation+s.SpinSpeed, 360)
		sh.Hue = math.Mod(sh.Hue+s.ColorSpeed, 360)
		for a := range sh.angles {
			sh.angles[a] += sh.Spin[a]
		}

		cx, cy := sh.X*float64(width), sh.Y*float64(height)
		dc.SetColor(hsl(sh.Hue))
		dc.SetLineWidth(s.LineWidth)
		switch sh.Kind {
		case ShapeCircle:
			dc.DrawCircle(cx, cy, r)
		case ShapeStar:
			drawStar(dc, cx, cy, r, gg.Radians(sh.Rotation))
		case ShapeCube:
			drawCube(dc, cx, cy, r*0.6, sh.angles)
		default:
			dc.DrawRegularPolygon(polygonSides[sh.Kind], cx, cy, r, gg.Radians(sh.Rotation))
		}
		dc.Stroke()
	}
}

func drawStar(dc *gg.Context, cx, cy, r, rot float64) {
	for i := 0; i < 10; i++ {
		rr := r
		if i%2 == 1 {
			rr = r * 0.45
		}
		a := rot + float64(i)*math.Pi/5 - math.Pi/2
		x, y := cx+rr*math.Cos(a), cy+rr*math.Sin(a)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.ClosePath()
}

var cubeEdges = [][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// drawCube strokes a wireframe cube rotated about x, y and z by angles and
// projected with a fixed perspective.
func drawCube(dc *gg.Context, cx, cy, r float64, angles [3]float64) {
	var pts [8][2]float64
	for i := 0; i < 8; i++ {
		x := r * float64(1-2*(i&1^(i>>1&1)))
		y := r * float64(1-2*(i>>1&1))
		z := r * float64(1-2*(i>>2&1))
		pts[i] = project(x, y, z, angles)
	}
	for _, e := range cubeEdges {
		a, b := pts[e[0]], pts[e[1]]
		dc.MoveTo(cx+a[0], cy+a[1])
		dc.LineTo(cx+b[0], cy+b[1])
	}
}

func project(x, y, z float64, ang [3]float64) [2]float64 {
	sx, cx := math.Sincos(ang[0])
	sy, cy := math.Sincos(ang[1])
	sz, cz := math.Sincos(ang[2])
	y1 := y*cx - z*sx
	z1 := y*sx + z*cx
	x2 := x*cy + z1*sy
	z2 := -x*sy + z1*cy
	x3 := x2*cz - y1*sz
	y3 := x2*sz + y1*cz
	const perspective = 300.0
	s := perspective / (perspective + z2)
	return [2]float64{x3 * s, y3 * s}
}

// hsl converts a hue in degrees at full saturation and half lightness.
func hsl(hue float64) color.Color {
	h := math.Mod(hue, 360)
	if h < 0 {
		h += 360
	}
	x := 1 - math.Abs(math.Mod(h/60, 2)-1)
	var r, g, b float64
	switch {
	case h < 60:
		r, g = 1, x
	case h < 120:
		r, g = x, 1
	case h < 180:
		g, b = 1, x
	case h < 240:
		g, b = x, 1
	case h < 300:
		r, b = x, 1
	default:
		r, b = 1, x
	}
	return color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255}
}
