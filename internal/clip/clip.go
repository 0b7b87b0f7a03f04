// Package clip extracts the frames of one sign from a source video.
package clip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/signreel/signreel/internal/media"
)

// Window is a time range in seconds. Both ends are inclusive.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Empty reports whether the window cannot contain any frame.
func (w Window) Empty() bool {
	return w.Start >= w.End
}

func (w Window) Contains(t float64) bool {
	return w.Start <= t && t <= w.End
}

// Clip is the ordered frames of one word.
type Clip struct {
	Word    string        `json:"word"`
	Locator string        `json:"locator"`
	Window  Window        `json:"window"`
	Frames  []media.Frame `json:"-"`
}

func (c Clip) Len() int {
	return len(c.Frames)
}

// Geometry returns the size of the first frame, or zero for an empty clip.
func (c Clip) Geometry() media.Geometry {
	if len(c.Frames) == 0 {
		return media.Geometry{}
	}
	return c.Frames[0].Geometry()
}

// OpenError means the source could not be opened for decoding.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// IsOpenError reports whether err is an *OpenError.
func IsOpenError(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// Extractor cuts clips out of source videos.
type Extractor struct {
	decoder media.Decoder
	logger  *slog.Logger
}

func NewExtractor(decoder media.Decoder, logger *slog.Logger) *Extractor {
	return &Extractor{decoder: decoder, logger: logger}
}

// Extract decodes path from window.Start and keeps every frame whose measured
// timestamp lies in window. See Stream for the stopping rules and errors.
func (e *Extractor) Extract(ctx context.Context, path string, window Window) (Clip, error) {
	c := Clip{Window: window}
	_, err := e.Stream(ctx, path, window, func(f media.Frame) error {
		c.Frames = append(c.Frames, f)
		return nil
	})
	return c, err
}

// Stream decodes path from window.Start and hands every frame whose measured
// timestamp lies in window to emit, returning how many were emitted.
// Decoding stops at the first frame at or past window.End, or when the
// stream ends. The seek only positions the decoder; frames before
// window.Start, and frames without a timestamp, are dropped.
//
// A source that cannot be opened returns *OpenError. A decode error after
// opening ends the clip early and is logged. An error from emit is returned
// unchanged.
func (e *Extractor) Stream(ctx context.Context, path string, window Window, emit func(media.Frame) error) (int, error) {
	if window.Empty() {
		e.logger.Debug("empty clip window", "path", path, "start", window.Start, "end", window.End)
		return 0, nil
	}

	r, err := e.decoder.Open(ctx, path)
	if err != nil {
		return 0, &OpenError{Path: path, Err: err}
	}
	defer r.Close()

	if err := r.Seek(window.Start); err != nil {
		return 0, &OpenError{Path: path, Err: fmt.Errorf("seek to %.3f: %w", window.Start, err)}
	}

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			e.logger.Warn("decode error, ending clip early",
				"path", path,
				"frames", n,
				"error", err,
			)
			break
		}
		if math.IsNaN(f.PTS) {
			continue
		}

		if window.Contains(f.PTS) {
			if err := emit(f); err != nil {
				return n, err
			}
			n++
		}
		if f.PTS >= window.End {
			break
		}
	}

	e.logger.Debug("clip extracted",
		"path", path,
		"start", window.Start,
		"end", window.End,
		"frames", n,
	)
	return n, nil
}
