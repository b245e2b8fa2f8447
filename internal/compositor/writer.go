package compositor

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fogleman/gg"
)

// FramePattern is the printf pattern of frame file names, numbered from 1.
const FramePattern = "fr%05d.png"

// FrameWriter saves rendered frames as numbered PNG files for later encoding.
type FrameWriter struct {
	dir  string
	next int
}

// NewFrameWriter creates dir if needed and returns a writer numbering frames
// from 1.
func NewFrameWriter(dir string) (*FrameWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	return &FrameWriter{dir: dir, next: 1}, nil
}

// Dir returns the output directory.
func (w *FrameWriter) Dir() string { return w.dir }

// Count returns how many frames have been written.
func (w *FrameWriter) Count() int { return w.next - 1 }

// Write saves img as the next frame and returns its path.
func (w *FrameWriter) Write(img image.Image) (string, error) {
	path := filepath.Join(w.dir, fmt.Sprintf(FramePattern, w.next))
	if err := gg.SavePNG(path, img); err != nil {
		opsf("write frame %s: %v", path, err)
		return "", fmt.Errorf("write frame %d: %w", w.next, err)
	}
	w.next++
	return path, nil
}

// VideoOptions configures EncodeVideo.
type VideoOptions struct {
	FramesDir string
	FPS       float64
	// AudioPath is muxed in when set; StartDelay offsets it.
	AudioPath  string
	StartDelay time.Duration
	// Duration trims the output when positive.
	Duration time.Duration
	Output   string
	// FFmpeg is the binary to run; empty means "ffmpeg" from PATH.
	FFmpeg string
}

// ffmpegArgs builds the ffmpeg command line for opts.
func ffmpegArgs(opts VideoOptions) []string {
	fps := opts.FPS
	if fps <= 0 {
		fps = 30
	}
	args := []string{
		"-framerate", fmt.Sprintf("%g", fps),
		"-i", filepath.Join(opts.FramesDir, FramePattern),
	}
	if opts.AudioPath != "" {
		args = append(args,
			"-itsoffset", fmt.Sprintf("%fs", opts.StartDelay.Seconds()),
			"-i", opts.AudioPath,
			"-map", "0:v", "-map", "1:a",
		)
	}
	args = append(args,
		"-preset", "veryfast",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-tune", "animation",
		"-y",
	)
	if opts.Duration > 0 {
		args = append(args, "-t", fmt.Sprintf("%f", opts.Duration.Seconds()))
	}
	return append(args, opts.Output)
}

// EncodeVideo runs ffmpeg over the frames in opts.FramesDir.
func EncodeVideo(ctx context.Context, opts VideoOptions) error {
	if opts.Output == "" {
		return fmt.Errorf("encode video: no output path")
	}
	bin := opts.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}
	args := ffmpegArgs(opts)
	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		opsf("ffmpeg failed: %s", strings.TrimSpace(lastLines(string(out), 5)))
		return fmt.Errorf("run %s %s: %w", bin, strings.Join(args, " "), err)
	}
	diagf("encoded %s", opts.Output)
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
