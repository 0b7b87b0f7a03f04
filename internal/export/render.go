package export

import (
	"time"

	"github.com/signreel/signreel/internal/clip"
	"github.com/signreel/signreel/internal/media"
	"github.com/signreel/signreel/internal/store"
	"github.com/signreel/signreel/internal/timeline"
)

// FromRender rebuilds the timeline of a recorded render from its per-word
// outcomes. Words that contributed no frames are left out.
func FromRender(rd *store.Render) *timeline.Output {
	out := &timeline.Output{
		Path:      rd.OutputPath,
		Geometry:  media.Geometry{Width: rd.Width, Height: rd.Height},
		FrameRate: timeline.FrameRate,
		Duration:  time.Duration(rd.DurationMs) * time.Millisecond,
	}
	for _, w := range rd.Words {
		if w.FrameCount == 0 {
			continue
		}
		out.Segments = append(out.Segments, timeline.Segment{
			Word:       w.Word,
			Locator:    w.Locator,
			Window:     clip.Window{Start: w.StartTime, End: w.EndTime},
			FirstFrame: out.FrameCount,
			FrameCount: w.FrameCount,
		})
		out.FrameCount += w.FrameCount
	}
	return out
}
