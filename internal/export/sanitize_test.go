package export

import (
	"testing"

	"github.com/spf13/afero"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{" A\nB\rC\tD\x00 ", 0, "ABCD"},
		{"abcdefghijklmnopqrstuvwxyz", 10, "abcdefghij"},
		{"Az09 -_.,()'", 0, "Az09 -_.,()'"},
		{"bad<>|\"name", 0, "bad____name"},
		{"HELLO/WORLD", 0, "HELLO_WORLD"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("SanitizeName(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestValidateOutputPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/out/sub", 0o755)
	afero.WriteFile(fs, "/out/file.txt", []byte("x"), 0o644)

	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/out/video.mp4", false},
		{"/out/file.txt", false},
		{"", true},
		{"/missing/video.mp4", true},
		{"/out/file.txt/video.mp4", true},
		{"/out/sub", true},
	}
	for _, tt := range tests {
		err := ValidateOutputPath(fs, tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateOutputPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}
