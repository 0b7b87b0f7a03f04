// Package media decodes source videos into timestamped raw frames and encodes
// raw frames into the output video, using ffmpeg and ffprobe subprocesses.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BytesPerPixel is the size of one bgr24 pixel.
const BytesPerPixel = 3

// Geometry is a frame size in pixels.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// FrameSize returns the byte length of one bgr24 frame.
func (g Geometry) FrameSize() int {
	return g.Width * g.Height * BytesPerPixel
}

func (g Geometry) IsZero() bool {
	return g.Width <= 0 || g.Height <= 0
}

// Frame is one decoded picture with its measured presentation time.
type Frame struct {
	Index  int
	PTS    float64 // seconds
	Width  int
	Height int
	Pix    []byte // bgr24, row-major
}

func (f Frame) Geometry() Geometry {
	return Geometry{Width: f.Width, Height: f.Height}
}

// Decoder opens source videos for frame-by-frame reading.
type Decoder interface {
	Open(ctx context.Context, path string) (FrameReader, error)
}

// FrameReader yields frames in decode order. Read returns io.EOF once the
// stream is exhausted.
type FrameReader interface {
	// Seek positions the reader near t seconds. The next frame may start
	// before or after t.
	Seek(t float64) error
	Read() (Frame, error)
	Geometry() Geometry
	Close() error
}

// Encoder creates output sinks.
type Encoder interface {
	Create(ctx context.Context, path string, geom Geometry, fps int) (Sink, error)
}

// Sink accepts frames for one output file. Close finalizes the file.
type Sink interface {
	Write(f Frame) error
	Close() error
}

// Config holds the tool configuration shared by the decoder, encoder and doctor.
type Config struct {
	FFmpegPath   string
	FFprobePath  string
	Codec        string
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		Codec:        "mpeg4",
		ProbeTimeout: 30 * time.Second,
		Logger:       logger,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Logger)
	if c.FFmpegPath == "" {
		c.FFmpegPath = d.FFmpegPath
	}
	if c.FFprobePath == "" {
		c.FFprobePath = d.FFprobePath
	}
	if c.Codec == "" {
		c.Codec = d.Codec
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// FitFrame returns the pixel data of f laid out for geom. Frames that already
// match are returned as is; others are placed top-left on a black canvas,
// cropping what does not fit. Pixels are never scaled.
func FitFrame(f Frame, geom Geometry) []byte {
	if f.Width == geom.Width && f.Height == geom.Height && len(f.Pix) == geom.FrameSize() {
		return f.Pix
	}

	canvas := make([]byte, geom.FrameSize())
	rows := min(f.Height, geom.Height)
	rowBytes := min(f.Width, geom.Width) * BytesPerPixel
	srcStride := f.Width * BytesPerPixel
	dstStride := geom.Width * BytesPerPixel
	for y := 0; y < rows; y++ {
		src := y * srcStride
		if src+rowBytes > len(f.Pix) {
			break
		}
		copy(canvas[y*dstStride:], f.Pix[src:src+rowBytes])
	}
	return canvas
}
