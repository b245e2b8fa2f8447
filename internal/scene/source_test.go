package scene

import (
	"image"
	"image/color"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scenesynth/internal/testutil"
)

func TestFrameHandoff_PublishCopies(t *testing.T) {
	h := NewFrameHandoff()
	_, ok := h.Frame()
	assert.False(t, ok, "empty handoff has no frame")
	assert.Nil(t, h.Latest())

	img := testutil.SolidFrame(4, 4, color.RGBA{1, 2, 3, 255})
	seq := h.Publish(img)
	assert.Equal(t, uint64(1), seq)

	img.Pix[0] = 99
	got, ok := h.Frame()
	require.True(t, ok)
	assert.Equal(t, uint8(1), got.(*image.RGBA).Pix[0], "writer mutations must not leak into the snapshot")

	assert.Equal(t, seq, h.Publish(nil), "nil publish is ignored")
	assert.Equal(t, uint64(2), h.Publish(img))
	assert.Equal(t, uint64(2), h.Latest().Seq)
}

func TestFrameHandoff_ConcurrentReaders(t *testing.T) {
	h := NewFrameHandoff()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Publish(testutil.SolidFrame(8, 8, color.RGBA{uint8(i), uint8(i), uint8(i), 255}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if img, ok := h.Frame(); ok {
				px := img.(*image.RGBA).Pix
				// every pixel of a snapshot carries the same value
				assert.Equal(t, px[0], px[len(px)-4])
			}
		}
	}()
	wg.Wait()
}

func TestSyntheticSource(t *testing.T) {
	s := NewSyntheticSource(64, 48, 3, rand.New(rand.NewSource(3)))
	first, ok := s.Frame()
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 64, 48), first.Bounds())

	a := s.Next()
	b := s.Next()
	assert.NotEqual(t, a.Pix, b.Pix, "blobs move between frames")

	s.SetReady(false)
	_, ok = s.Frame()
	assert.False(t, ok)
}

func TestSyntheticSource_SetBlobs(t *testing.T) {
	s := NewSyntheticSource(20, 20, 0, rand.New(rand.NewSource(1)))
	s.SetBlobs([]Blob{{X: 10, Y: 10, Radius: 4, Colour: color.RGBA{255, 0, 0, 255}}})
	img, ok := s.Frame()
	require.True(t, ok)
	r, _, _, _ := img.At(10, 10).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	r, _, _, _ = img.At(1, 1).RGBA()
	assert.Less(t, r, uint32(0x1000))
}

func TestStaticSource(t *testing.T) {
	_, ok := StaticSource{}.Frame()
	assert.False(t, ok)
	_, ok = StaticSource{Image: testutil.SolidFrame(1, 1, color.RGBA{})}.Frame()
	assert.True(t, ok)
}
