// Package media wraps the ffmpeg and ffprobe binaries: stream metadata
// probing, raw frame decoding for export, and clock-driven playback
// position tracking for live sessions.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type ProbeResult struct {
	Duration  float64
	Width     int
	Height    int
	Codec     string
	Bitrate   int64
	FrameRate float64
}

type Prober interface {
	Probe(ctx context.Context, filePath string) (*ProbeResult, error)
}

// FFprobe shells out to the ffprobe binary for stream inspection.
type FFprobe struct {
	path string
}

func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{path: path}
}

func (p *FFprobe) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	cmd := exec.CommandContext(ctx, p.path, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var raw probeOutput
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	if dur, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
		result.Duration = dur
	}
	if br, err := strconv.ParseInt(raw.Format.BitRate, 10, 64); err == nil {
		result.Bitrate = br
	}

	for _, stream := range raw.Streams {
		if stream.CodecType != "video" {
			continue
		}
		result.Width = stream.Width
		result.Height = stream.Height
		result.Codec = stream.CodecName
		result.FrameRate = ParseFrameRate(stream.RFrameRate)
		break
	}

	if result.Width == 0 || result.Height == 0 {
		return nil, fmt.Errorf("no video stream in %s", filePath)
	}
	return result, nil
}

// probeOutput matches ffprobe's JSON structure.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// ParseFrameRate evaluates an ffprobe rational like "30000/1001".
func ParseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
