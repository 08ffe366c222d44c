package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// TargetLUFS is the integrated loudness playback gain is computed against.
const TargetLUFS = -14.0

// loudnessTimeout is longer than DefaultTimeout because the filter decodes
// the whole file.
const loudnessTimeout = 15 * time.Minute

type LoudnessResult struct {
	InputI float64 // measured integrated loudness (LUFS)
	GainDB float64 // gain to reach TargetLUFS
}

// AnalyzeLoudness runs the loudnorm filter in measurement-only mode.
func (f *FFmpeg) AnalyzeLoudness(ctx context.Context, filePath string) (*LoudnessResult, error) {
	ctx, cancel := context.WithTimeout(ctx, loudnessTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.Path,
		"-hide_banner",
		"-nostats",
		"-i", filePath,
		"-vn",
		"-af", "loudnorm=I=-14:TP=-1.5:LRA=11:print_format=json",
		"-f", "null",
		"-",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg loudnorm: %w (output: %s)", err, lastLines(string(output), 20))
	}

	inputI, err := ParseLoudnorm(string(output))
	if err != nil {
		return nil, fmt.Errorf("parse loudnorm output: %w", err)
	}
	return &LoudnessResult{InputI: inputI, GainDB: TargetLUFS - inputI}, nil
}

// ParseLoudnorm extracts input_i from the JSON block loudnorm prints last.
func ParseLoudnorm(output string) (float64, error) {
	start := strings.LastIndex(output, "{")
	if start < 0 {
		return 0, errors.New("no JSON block in loudnorm output")
	}
	end := strings.Index(output[start:], "}")
	if end < 0 {
		return 0, errors.New("unterminated loudnorm JSON")
	}

	var parsed struct {
		InputI string `json:"input_i"`
	}
	if err := json.Unmarshal([]byte(output[start:start+end+1]), &parsed); err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parsed.InputI), 64)
	if err != nil {
		return 0, fmt.Errorf("input_i %q: %w", parsed.InputI, err)
	}
	return v, nil
}
