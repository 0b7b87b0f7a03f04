package pipeline

import (
	"errors"

	"github.com/signreel/signreel/internal/store"
)

// Record converts a finished run into its render history row. runErr is the
// error returned by Run, if any.
func Record(text string, res *Result, runErr error) *store.Render {
	rd := &store.Render{ID: res.RequestID, Text: text, Status: string(res.Status)}

	if runErr != nil {
		rd.Status = store.RenderStatusError
		rd.ErrorKind = string(KindOf(runErr))
		rd.Error = runErr.Error()
		var pe *Error
		if errors.As(runErr, &pe) {
			rd.Error = pe.Message()
		}
	}

	if out := res.Output; out != nil {
		rd.OutputPath = out.Path
		rd.FrameCount = out.FrameCount
		rd.Width = out.Geometry.Width
		rd.Height = out.Geometry.Height
		rd.DurationMs = out.Duration.Milliseconds()
	}

	for _, w := range res.Words {
		rw := &store.RenderWord{
			Position:   w.Position,
			Word:       w.Word,
			Outcome:    string(w.Outcome),
			Locator:    w.Locator,
			FrameCount: w.Frames,
		}
		if e, ok := w.Entry.Get(); ok {
			rw.StartTime = e.StartTime
			rw.EndTime = e.EndTime
		}
		rd.Words = append(rd.Words, rw)
	}
	return rd
}
