package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// JSONSource reads an MS-ASL JSON array file. The file is decoded again on
// every Open so edits are picked up by the next request.
type JSONSource struct {
	fs   afero.Fs
	path string
}

func NewJSONSource(fs afero.Fs, path string) *JSONSource {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &JSONSource{fs: fs, path: path}
}

func (s *JSONSource) Name() string {
	return "json:" + s.path
}

func (s *JSONSource) Open(ctx context.Context) (Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	entries, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", s.path, err)
	}
	return newMemTable(entries), nil
}

// Decode reads a JSON array of entries.
func Decode(r io.Reader) ([]Entry, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}
