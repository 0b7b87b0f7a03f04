package playback

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	const size = 4096 // a small rendered clip

	tests := []struct {
		name    string
		header  string
		want    *Range
		wantErr error
	}{
		{name: "no header"},
		{name: "whole file", header: "bytes=0-4095", want: &Range{0, 4095}},
		{name: "open ended", header: "bytes=1024-", want: &Range{1024, 4095}},
		{name: "tail", header: "bytes=-96", want: &Range{4000, 4095}},
		{name: "tail longer than file", header: "bytes=-10000", want: &Range{0, 4095}},
		{name: "end clamped", header: "bytes=4000-9999", want: &Range{4000, 4095}},
		{name: "first byte", header: "bytes=0-0", want: &Range{0, 0}},
		{name: "browser probe", header: "bytes=0-1", want: &Range{0, 1}},
		{name: "spaces tolerated", header: "bytes= 10-20", want: &Range{10, 20}},
		{name: "first of several", header: "bytes=10-19,100-199", want: &Range{10, 19}},

		{name: "start at size", header: "bytes=4096-", wantErr: ErrUnsatisfiable},
		{name: "reversed", header: "bytes=200-100", wantErr: ErrUnsatisfiable},
		{name: "not bytes", header: "frames=0-25", wantErr: ErrInvalidRange},
		{name: "garbage", header: "bytes=x-y", wantErr: ErrInvalidRange},
		{name: "no dash", header: "bytes=100", wantErr: ErrInvalidRange},
		{name: "bad end", header: "bytes=0-end", wantErr: ErrInvalidRange},
		{name: "zero tail", header: "bytes=-0", wantErr: ErrInvalidRange},
		{name: "negative start", header: "bytes=--5", wantErr: ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, size)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseRange(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("ParseRange(%q) = %+v, want nil", tt.header, *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("ParseRange(%q) = %v, want %+v", tt.header, got, *tt.want)
			}
		})
	}
}

func TestParseRange_EmptyBody(t *testing.T) {
	if _, err := ParseRange("bytes=0-", 0); !errors.Is(err, ErrUnsatisfiable) {
		t.Errorf("error = %v, want ErrUnsatisfiable", err)
	}
	if _, err := ParseRange("bytes=-5", 0); !errors.Is(err, ErrUnsatisfiable) {
		t.Errorf("suffix error = %v, want ErrUnsatisfiable", err)
	}
}

func TestRange_Headers(t *testing.T) {
	r := Range{Start: 1024, End: 4095}
	if got := r.Length(); got != 3072 {
		t.Errorf("Length() = %d, want 3072", got)
	}
	if got := r.ContentRange(4096); got != "bytes 1024-4095/4096" {
		t.Errorf("ContentRange() = %q", got)
	}
	if got := (Range{}).Length(); got != 1 {
		t.Errorf("zero range Length() = %d, want 1", got)
	}
}
