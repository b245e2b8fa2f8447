// Package testutil provides shared test fixtures: synthetic frames for the
// analyzer and compositor, and small HTTP helpers for handler tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
)

// SolidFrame returns a w x h frame filled with c.
func SolidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

// GridFrame returns a frame split into rows x cols equal regions, where
// region (x, y) is filled with fill(x, y). Width and height should be
// multiples of cols and rows so each region maps to one grid cell exactly.
func GridFrame(w, h, rows, cols int, fill func(x, y int) color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	cw, ch := w/cols, h/rows
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			cx, cy := px/cw, py/ch
			if cx >= cols {
				cx = cols - 1
			}
			if cy >= rows {
				cy = rows - 1
			}
			img.SetRGBA(px, py, fill(cx, cy))
		}
	}
	return img
}

// FillRect paints r in img with c.
func FillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// MaxNear returns the largest red, green or blue value in the
// (2*radius+1)^2 neighbourhood of (x, y).
func MaxNear(img *image.RGBA, x, y, radius int) uint8 {
	var best uint8
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			p := image.Pt(x+dx, y+dy)
			if !p.In(img.Bounds()) {
				continue
			}
			off := img.PixOffset(p.X, p.Y)
			for _, v := range img.Pix[off : off+3] {
				if v > best {
					best = v
				}
			}
		}
	}
	return best
}

// SourceFunc adapts a function to the frame-source interface used across
// the scene and compositor packages.
type SourceFunc func() (image.Image, bool)

// Frame calls f.
func (f SourceFunc) Frame() (image.Image, bool) { return f() }

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewJSONRequest creates a test HTTP request with body encoded as JSON.
func NewJSONRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeJSON decodes a recorder body into v, failing the test on error.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}
