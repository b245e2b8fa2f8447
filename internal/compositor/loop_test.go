package compositor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scenesynth/internal/testutil"
	"github.com/banshee-data/scenesynth/internal/timeutil"
)

var loopEpoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestLoop_AcceptCapsFrameRate(t *testing.T) {
	l := NewLoop(nil, 100, 25, func(time.Time) {})
	for i := 0; i < 100; i++ {
		l.Accept(loopEpoch.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	rendered, dropped := l.Stats()
	assert.Equal(t, uint64(25), rendered)
	assert.Equal(t, uint64(75), dropped)
}

func TestLoop_AcceptDoesNotBurstAfterStall(t *testing.T) {
	l := NewLoop(nil, 100, 25, func(time.Time) {})
	assert.True(t, l.Accept(loopEpoch))
	// A 200ms stall covers five intervals but yields one frame.
	assert.True(t, l.Accept(loopEpoch.Add(200*time.Millisecond)))
	assert.False(t, l.Accept(loopEpoch.Add(210*time.Millisecond)))
	assert.False(t, l.Accept(loopEpoch.Add(230*time.Millisecond)))
	assert.True(t, l.Accept(loopEpoch.Add(240*time.Millisecond)))
}

func TestLoop_UncappedRendersEveryTick(t *testing.T) {
	l := NewLoop(nil, 60, 0, func(time.Time) {})
	for i := 0; i < 10; i++ {
		assert.True(t, l.Accept(loopEpoch.Add(time.Duration(i)*time.Millisecond)))
	}
	l = NewLoop(nil, 30, 60, func(time.Time) {})
	assert.True(t, l.Accept(loopEpoch))
	assert.True(t, l.Accept(loopEpoch.Add(time.Millisecond)), "a target above the display rate is no cap")
}

func TestLoop_RunWithMockClock(t *testing.T) {
	clock := timeutil.NewMockClock(loopEpoch)
	frames := make(chan time.Time, 16)
	l := NewLoop(clock, 100, 50, func(now time.Time) { frames <- now })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	clock.BlockUntilWaiters(1)

	var got []time.Time
	for i := 0; i < 6; i++ {
		clock.Advance(10 * time.Millisecond)
		// Every other tick renders; give the loop a moment to consume each.
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)
	close(frames)
	for f := range frames {
		got = append(got, f)
	}
	assert.Len(t, got, 3)
	rendered, dropped := l.Stats()
	assert.Equal(t, uint64(3), rendered)
	assert.Equal(t, uint64(3), dropped)
}

func TestFrameWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	w, err := NewFrameWriter(dir)
	require.NoError(t, err)

	img := testutil.SolidFrame(8, 8, white)
	p1, err := w.Write(img)
	require.NoError(t, err)
	p2, err := w.Write(img)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "fr00001.png"), p1)
	assert.Equal(t, filepath.Join(dir, "fr00002.png"), p2)
	assert.Equal(t, 2, w.Count())
	_, err = os.Stat(p2)
	assert.NoError(t, err)
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs(VideoOptions{FramesDir: "out", FPS: 30, Output: "x.mp4"})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-framerate 30 -i "+filepath.Join("out", "fr%05d.png"))
	assert.NotContains(t, joined, "-map")
	assert.Equal(t, "x.mp4", args[len(args)-1])

	args = ffmpegArgs(VideoOptions{
		FramesDir:  "out",
		AudioPath:  "score.wav",
		StartDelay: 500 * time.Millisecond,
		Duration:   10 * time.Second,
		Output:     "y.mp4",
	})
	joined = strings.Join(args, " ")
	assert.Contains(t, joined, "-framerate 30")
	assert.Contains(t, joined, "-itsoffset 0.500000s -i score.wav -map 0:v -map 1:a")
	assert.Contains(t, joined, "-t 10.000000 y.mp4")
}

func TestEncodeVideo_Errors(t *testing.T) {
	assert.Error(t, EncodeVideo(context.Background(), VideoOptions{FramesDir: "out"}))

	err := EncodeVideo(context.Background(), VideoOptions{
		FramesDir: t.TempDir(),
		Output:    filepath.Join(t.TempDir(), "o.mp4"),
		FFmpeg:    filepath.Join(t.TempDir(), "no-such-ffmpeg"),
	})
	assert.Error(t, err)
}
