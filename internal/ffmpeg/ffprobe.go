package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

type FFprobe struct{ Path string }

type ProbeResult struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

type FormatInfo struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	Bitrate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

type StreamInfo struct {
	Index       int               `json:"index"`
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Channels    int               `json:"channels"`
	Disposition Disposition       `json:"disposition"`
	Tags        map[string]string `json:"tags"`
}

type Disposition struct {
	Default     int `json:"default"`
	AttachedPic int `json:"attached_pic"`
}

func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{Path: path}
}

func (f *FFprobe) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, f.Path, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", filePath)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return ParseProbe(output)
}

// ParseProbe decodes ffprobe's JSON output.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &result, nil
}

// Keyframes lists the presentation times, in seconds, of the key frames of
// the first video stream, ascending.
func (f *FFprobe) Keyframes(ctx context.Context, filePath string) ([]float64, error) {
	cmd := exec.CommandContext(ctx, f.Path,
		"-v", "error",
		"-select_streams", "v:0",
		"-skip_frame", "nokey",
		"-show_entries", "frame=pts_time",
		"-of", "csv=p=0",
		filePath)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe keyframes failed: %w", err)
	}
	return ParseKeyframes(output), nil
}

// ParseKeyframes parses one pts_time per line, skipping lines that do not parse.
func ParseKeyframes(data []byte) []float64 {
	var times []float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimSuffix(sc.Text(), ","))
		if line == "" {
			continue
		}
		if t, err := strconv.ParseFloat(line, 64); err == nil && t >= 0 {
			times = append(times, t)
		}
	}
	sort.Float64s(times)
	return times
}

func (r *ProbeResult) DurationMS() int64 {
	duration, _ := strconv.ParseFloat(r.Format.Duration, 64)
	if duration <= 0 {
		return 0
	}
	return int64(duration * 1000)
}

// Tag looks up a format-level tag case-insensitively.
func (r *ProbeResult) Tag(name string) string {
	for k, v := range r.Format.Tags {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// AudioCodecs returns the distinct audio codec names in stream order.
func (r *ProbeResult) AudioCodecs() []string {
	return r.collect("audio", func(s StreamInfo) string { return s.CodecName })
}

// AudioLanguages returns the distinct audio stream languages in stream order.
func (r *ProbeResult) AudioLanguages() []string {
	return r.collect("audio", streamLanguage)
}

// SubtitleLanguages returns the distinct subtitle stream languages in stream order.
func (r *ProbeResult) SubtitleLanguages() []string {
	return r.collect("subtitle", streamLanguage)
}

// CoverStream returns the index of an attached picture stream, or -1.
func (r *ProbeResult) CoverStream() int {
	for _, s := range r.Streams {
		if s.CodecType == "video" && s.Disposition.AttachedPic == 1 {
			return s.Index
		}
	}
	return -1
}

// HasVideo reports whether a real (non cover art) video stream is present.
func (r *ProbeResult) HasVideo() bool {
	for _, s := range r.Streams {
		if s.CodecType == "video" && s.Disposition.AttachedPic == 0 {
			return true
		}
	}
	return false
}

func (r *ProbeResult) collect(codecType string, value func(StreamInfo) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range r.Streams {
		if s.CodecType != codecType {
			continue
		}
		v := strings.ToLower(strings.TrimSpace(value(s)))
		if v == "" || v == "und" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func streamLanguage(s StreamInfo) string {
	for k, v := range s.Tags {
		if strings.EqualFold(k, "language") {
			return v
		}
	}
	return ""
}
