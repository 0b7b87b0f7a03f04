package export

import (
	"strings"
	"testing"

	"github.com/signreel/signreel/internal/clip"
	"github.com/signreel/signreel/internal/store"
	"github.com/signreel/signreel/internal/timeline"
)

func helloWorld() *timeline.Output {
	return &timeline.Output{
		FrameRate:  25,
		FrameCount: 51,
		Segments: []timeline.Segment{
			{Word: "HELLO", Locator: "https://www.youtube.com/watch?v=a", Window: clip.Window{Start: 1.0, End: 2.0}, FirstFrame: 0, FrameCount: 26},
			{Word: "WORLD", Locator: "https://www.youtube.com/watch?v=b", Window: clip.Window{Start: 0.5, End: 1.5}, FirstFrame: 26, FrameCount: 25},
		},
	}
}

func TestEDL_Events(t *testing.T) {
	edl := EDL(helloWorld(), "HELLO WORLD")

	for _, want := range []string{
		"TITLE: HELLO WORLD",
		"FCM: NON-DROP FRAME",
		"001  AX       V     C        00:00:01:00 00:00:02:01 00:00:00:00 00:00:01:01",
		"002  AX       V     C        00:00:00:13 00:00:01:13 00:00:01:01 00:00:02:01",
		"* FROM CLIP NAME:  HELLO",
		"* SOURCE:  https://www.youtube.com/watch?v=b",
	} {
		if !strings.Contains(edl, want) {
			t.Errorf("EDL missing %q:\n%s", want, edl)
		}
	}
}

func TestEDL_SkipsEmptySegments(t *testing.T) {
	out := helloWorld()
	out.Segments = append([]timeline.Segment{{Word: "EMPTY", Window: clip.Window{Start: 2, End: 1}}}, out.Segments...)

	edl := EDL(out, "t")
	if strings.Contains(edl, "EMPTY") {
		t.Errorf("empty segment listed:\n%s", edl)
	}
	if !strings.HasPrefix(strings.Split(edl, "\n")[3], "001  AX") {
		t.Errorf("event numbering should start at 001:\n%s", edl)
	}
}

func TestTimecode(t *testing.T) {
	tests := []struct {
		frames int
		fps    int
		want   string
	}{
		{0, 25, "00:00:00:00"},
		{24, 25, "00:00:00:24"},
		{25, 25, "00:00:01:00"},
		{25 * 61, 25, "00:01:01:00"},
		{25 * 3600, 25, "01:00:00:00"},
		{-3, 25, "00:00:00:00"},
	}
	for _, tt := range tests {
		if got := Timecode(tt.frames, tt.fps); got != tt.want {
			t.Errorf("Timecode(%d, %d) = %q, want %q", tt.frames, tt.fps, got, tt.want)
		}
	}
}

func TestFromRender(t *testing.T) {
	rd := &store.Render{
		ID:     "r1",
		Width:  640,
		Height: 480,
		Words: []*store.RenderWord{
			{Position: 0, Word: "HELLO", Outcome: "matched", Locator: "A", StartTime: 1.0, EndTime: 2.0, FrameCount: 26},
			{Position: 1, Word: "nope", Outcome: "no_match"},
			{Position: 2, Word: "WORLD", Outcome: "matched", Locator: "B", StartTime: 0.5, EndTime: 1.5, FrameCount: 25},
		},
	}

	out := FromRender(rd)
	if out.FrameCount != 51 || len(out.Segments) != 2 {
		t.Fatalf("FromRender = %d frames, %d segments; want 51, 2", out.FrameCount, len(out.Segments))
	}
	if out.Segments[1].FirstFrame != 26 || out.Segments[1].Word != "WORLD" {
		t.Errorf("second segment = %+v", out.Segments[1])
	}
	if !strings.Contains(EDL(out, "r1"), "002  AX       V     C        00:00:00:13 00:00:01:13 00:00:01:01 00:00:02:01") {
		t.Errorf("rebuilt EDL does not match the assembled one:\n%s", EDL(out, "r1"))
	}
}
