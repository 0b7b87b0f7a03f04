package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/signreel/signreel/internal/subprocess"
)

// ProbeResult represents the parsed output from an ffprobe inspection.
type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Probe executes ffprobe against path and decodes the JSON response.
func Probe(ctx context.Context, logger *slog.Logger, binary, path string) (*ProbeResult, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ffprobe: empty path")
	}

	res := subprocess.Run(ctx, logger, binary,
		"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err := res.Error(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var result ProbeResult
	if err := json.Unmarshal(res.Stdout, &result); err != nil {
		return nil, fmt.Errorf("ffprobe parse: %w", err)
	}
	return &result, nil
}

// VideoStream returns the first video stream.
func (r *ProbeResult) VideoStream() (Stream, bool) {
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, "video") {
			return s, true
		}
	}
	return Stream{}, false
}

// Geometry returns the size of the first video stream.
func (r *ProbeResult) Geometry() (Geometry, error) {
	s, ok := r.VideoStream()
	if !ok {
		return Geometry{}, errors.New("no video stream")
	}
	g := Geometry{Width: s.Width, Height: s.Height}
	if g.IsZero() {
		return Geometry{}, fmt.Errorf("video stream %d has no size", s.Index)
	}
	return g, nil
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r *ProbeResult) DurationSeconds() float64 {
	d := parseFloat(r.Format.Duration)
	if math.IsNaN(d) {
		return 0
	}
	return d
}

// FrameRate returns the average frame rate of the first video stream.
func (r *ProbeResult) FrameRate() float64 {
	s, ok := r.VideoStream()
	if !ok {
		return 0
	}
	num, den, found := strings.Cut(s.AvgFrameRate, "/")
	if !found {
		return parseFloat(num)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 || math.IsNaN(n) || math.IsNaN(d) {
		return 0
	}
	return n / d
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
