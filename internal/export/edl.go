// Package export writes assembled timelines as CMX3600 edit decision lists.
package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/signreel/signreel/internal/timeline"
)

const reelName = "AX"

// EDL renders out as a non-drop-frame CMX3600 list. Source timecodes come
// from each segment's window start; record timecodes from its position in
// the output.
func EDL(out *timeline.Output, title string) string {
	fps := out.FrameRate
	if fps <= 0 {
		fps = timeline.FrameRate
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", SanitizeName(title, 70))
	b.WriteString("FCM: NON-DROP FRAME\n\n")

	event := 0
	for _, seg := range out.Segments {
		if seg.FrameCount == 0 {
			continue
		}
		event++
		srcIn := int(math.Round(seg.Window.Start * float64(fps)))
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n",
			event, reelName, "V",
			Timecode(srcIn, fps), Timecode(srcIn+seg.FrameCount, fps),
			Timecode(seg.FirstFrame, fps), Timecode(seg.FirstFrame+seg.FrameCount, fps),
		)
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", SanitizeName(seg.Word, 64))
		fmt.Fprintf(&b, "* SOURCE:  %s\n", seg.Locator)
	}
	return b.String()
}

// Timecode formats a frame count as HH:MM:SS:FF.
func Timecode(frames, fps int) string {
	if frames < 0 {
		frames = 0
	}
	ff := frames % fps
	secs := frames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", secs/3600, secs/60%60, secs%60, ff)
}
