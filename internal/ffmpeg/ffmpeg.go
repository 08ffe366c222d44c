package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single ffmpeg invocation.
const DefaultTimeout = 2 * time.Minute

type FFmpeg struct{ Path string }

func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path}
}

// ExtractStream copies the picture in stream index of input to output.
func (f *FFmpeg) ExtractStream(ctx context.Context, input string, stream int, output string) error {
	return f.run(ctx, output,
		"-v", "error",
		"-i", input,
		"-map", "0:"+strconv.Itoa(stream),
		"-frames:v", "1",
		"-y",
		output,
	)
}

// Snapshot decodes one frame at offset and writes it as an image to output,
// scaled to width when width is positive.
func (f *FFmpeg) Snapshot(ctx context.Context, input string, offset time.Duration, width int, output string) error {
	args := []string{
		"-v", "error",
		"-ss", formatSeconds(offset),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
	}
	if width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", width))
	}
	args = append(args, "-y", output)
	return f.run(ctx, output, args...)
}

func (f *FFmpeg) run(ctx context.Context, output string, args ...string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, f.Path, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg: timed out after %v", DefaultTimeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg: %w (output: %s)", err, lastLines(string(out), 5))
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
