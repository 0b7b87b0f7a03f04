// Package timeline concatenates extracted clips into one output video.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/signreel/signreel/internal/clip"
	"github.com/signreel/signreel/internal/media"
)

// FrameRate is the fixed output frame rate.
const FrameRate = 25

// Segment locates one clip inside the output.
type Segment struct {
	Word       string      `json:"word"`
	Locator    string      `json:"locator"`
	Window     clip.Window `json:"window"`
	FirstFrame int         `json:"first_frame"`
	FrameCount int         `json:"frame_count"`
}

// Output is a closed, fully written video.
type Output struct {
	Path       string         `json:"path"`
	Geometry   media.Geometry `json:"geometry"`
	FrameRate  int            `json:"frame_rate"`
	FrameCount int            `json:"frame_count"`
	Duration   time.Duration  `json:"duration"`
	Size       int64          `json:"size"`
	Segments   []Segment      `json:"segments"`
}

// AssemblyError means no usable output could be produced.
type AssemblyError struct {
	Reason string
	Err    error
}

func (e *AssemblyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("assembly failed: %s: %v", e.Reason, e.Err)
	}
	return "assembly failed: " + e.Reason
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}

func IsAssemblyError(err error) bool {
	var ae *AssemblyError
	return errors.As(err, &ae)
}

type Assembler struct {
	encoder media.Encoder
	logger  *slog.Logger
}

func NewAssembler(encoder media.Encoder, logger *slog.Logger) *Assembler {
	return &Assembler{encoder: encoder, logger: logger}
}

// Assemble writes every frame of every clip, in order, to outPath at
// FrameRate. The output takes the geometry of the first frame; later frames
// of another size are not resized.
func (a *Assembler) Assemble(ctx context.Context, clips []clip.Clip, outPath string) (*Output, error) {
	w := a.NewWriter(ctx, outPath)
	for _, c := range clips {
		w.Begin(c.Word, c.Locator, c.Window)
		for _, f := range c.Frames {
			if err := w.Write(f); err != nil {
				return nil, err
			}
		}
	}
	return w.Finish()
}

// Writer streams clips into one output file frame by frame. The encoder
// sink is opened at the first frame, whose size becomes the output
// geometry. After an error the Writer is closed and every later call
// returns that error.
type Writer struct {
	a    *Assembler
	ctx  context.Context
	sink media.Sink
	out  *Output
	err  error
}

func (a *Assembler) NewWriter(ctx context.Context, outPath string) *Writer {
	return &Writer{a: a, ctx: ctx, out: &Output{Path: outPath, FrameRate: FrameRate}}
}

// Begin starts the segment for the next clip.
func (w *Writer) Begin(word, locator string, window clip.Window) {
	w.out.Segments = append(w.out.Segments, Segment{
		Word:       word,
		Locator:    locator,
		Window:     window,
		FirstFrame: w.out.FrameCount,
	})
}

// Write appends f to the current segment.
func (w *Writer) Write(f media.Frame) error {
	if w.err != nil {
		return w.err
	}
	if w.sink == nil {
		geom := f.Geometry()
		sink, err := w.a.encoder.Create(w.ctx, w.out.Path, geom, FrameRate)
		if err != nil {
			return w.fail(&AssemblyError{Reason: "cannot create output", Err: err})
		}
		w.sink = sink
		w.out.Geometry = geom
	}
	if err := w.sink.Write(f); err != nil {
		return w.fail(&AssemblyError{Reason: fmt.Sprintf("write frame %d", w.out.FrameCount), Err: err})
	}
	w.out.FrameCount++
	if n := len(w.out.Segments); n > 0 {
		w.out.Segments[n-1].FrameCount++
	}
	return nil
}

// Abort closes the sink without producing an output.
func (w *Writer) Abort() {
	if w.err == nil {
		w.fail(&AssemblyError{Reason: "aborted"})
	}
}

func (w *Writer) fail(err error) error {
	w.err = err
	if w.sink != nil {
		w.sink.Close()
		w.sink = nil
	}
	return err
}

// Finish closes the output and checks that a non-empty file was written.
func (w *Writer) Finish() (*Output, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.sink == nil {
		return nil, w.fail(&AssemblyError{Reason: "no frames to write"})
	}

	err := w.sink.Close()
	w.sink = nil
	if err != nil {
		return nil, w.fail(&AssemblyError{Reason: "cannot finalize output", Err: err})
	}

	out := w.out
	info, err := os.Stat(out.Path)
	if err != nil {
		return nil, w.fail(&AssemblyError{Reason: "output missing", Err: err})
	}
	if info.Size() == 0 {
		return nil, w.fail(&AssemblyError{Reason: "output is empty"})
	}

	out.Size = info.Size()
	out.Duration = time.Duration(out.FrameCount) * time.Second / FrameRate
	w.err = errors.New("timeline already finished")

	w.a.logger.Info("timeline assembled",
		"clips", len(out.Segments),
		"frames", out.FrameCount,
		"geometry", out.Geometry.String(),
		"duration", out.Duration.String(),
	)
	return out, nil
}
