package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

// videoTypes covers containers missing from the builtin mime table.
var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".m4v": "video/mp4",
	".avi": "video/x-msvideo",
	".mov": "video/quicktime",
	".mkv": "video/x-matroska",
}

// Artifact is an opened file ready for delivery. Holding it open keeps the
// bytes readable after the path is unlinked.
type Artifact struct {
	Name        string
	ContentType string
	Size        int64
	file        afero.File
}

// Open opens path on fs for delivery.
func Open(fs afero.Fs, path string) (*Artifact, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &Artifact{
		Name:        filepath.Base(path),
		ContentType: ContentType(path),
		Size:        info.Size(),
		file:        f,
	}, nil
}

func (a *Artifact) Close() error {
	return a.file.Close()
}

// ContentType guesses a MIME type from the file extension.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// Serve writes a to w, honoring a single byte range. It returns the number
// of body bytes written. Invalid Range headers are ignored and the whole
// body is sent.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, a *Artifact) (int64, error) {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", a.ContentType)
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", a.Name))

	rng, err := ParseRange(r.Header.Get("Range"), a.Size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", a.Size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return 0, nil
	case err != nil:
		rng = nil
	}

	if rng == nil {
		h.Set("Content-Length", strconv.FormatInt(a.Size, 10))
		w.WriteHeader(http.StatusOK)
		n, err := io.Copy(w, a.file)
		s.logDelivery(a, n, err)
		return n, err
	}

	if _, err := a.file.Seek(rng.Start, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek: %w", err)
	}
	h.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	h.Set("Content-Range", rng.ContentRange(a.Size))
	w.WriteHeader(http.StatusPartialContent)
	n, err := io.CopyN(w, a.file, rng.Length())
	s.logDelivery(a, n, err)
	return n, err
}

func (s *Server) logDelivery(a *Artifact, n int64, err error) {
	if err != nil {
		s.logger.Warn("delivery interrupted", "file", a.Name, "sent", humanize.Bytes(uint64(n)), "error", err)
		return
	}
	s.logger.Debug("delivered", "file", a.Name, "sent", humanize.Bytes(uint64(n)))
}
