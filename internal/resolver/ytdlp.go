package resolver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/signreel/signreel/internal/subprocess"
)

// YTDLP downloads sources with the yt-dlp command line tool.
type YTDLP struct {
	bin    string
	format string
	logger *slog.Logger
}

func NewYTDLP(bin, format string, logger *slog.Logger) *YTDLP {
	if bin == "" {
		bin = "yt-dlp"
	}
	if format == "" {
		format = "best"
	}
	return &YTDLP{bin: bin, format: format, logger: logger}
}

func (y *YTDLP) Name() string {
	return BackendYTDLP
}

func (y *YTDLP) args(locator, dir string) []string {
	return []string{
		"-f", y.format,
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
		"--print", "after_move:filepath",
		"--", locator,
	}
}

func (y *YTDLP) Resolve(ctx context.Context, locator, dir string) (*Source, error) {
	res := subprocess.Run(ctx, y.logger, y.bin, y.args(locator, dir)...)
	created := listDir(dir)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("yt-dlp %s: %w", locator, ctx.Err())
	}
	if res.Err != nil && subprocess.IsNotFound(res.Err) {
		return nil, fmt.Errorf("yt-dlp not available: %w", res.Err)
	}
	if !res.IsSuccess() {
		if isStorageFailure(res.StderrTail) {
			return nil, fmt.Errorf("yt-dlp %s: storage failure: %w", locator, res.Error())
		}
		return nil, &UnavailableError{
			Locator:   locator,
			Reason:    lastErrorLine(res.StderrTail),
			Temporary: isTransientFailure(res.StderrTail),
			Err:       res.Error(),
		}
	}

	path := lastLine(res.Stdout)
	if path == "" {
		return nil, &UnavailableError{Locator: locator, Reason: "yt-dlp reported no file"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &UnavailableError{Locator: locator, Reason: "downloaded file missing", Err: err}
	}

	return &Source{
		Locator: locator,
		Path:    path,
		Paths:   lo.Uniq(append(created, path)),
		Size:    info.Size(),
		Backend: BackendYTDLP,
	}, nil
}

func isStorageFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no space left on device") ||
		strings.Contains(s, "disk quota exceeded") ||
		strings.Contains(s, "read-only file system")
}

// isTransientFailure matches yt-dlp errors that usually clear on retry.
func isTransientFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range []string{
		"http error 429",
		"http error 5",
		"timed out",
		"connection reset",
		"temporary failure in name resolution",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// lastErrorLine returns the last "ERROR:" line of yt-dlp output, or the last
// non-empty line.
func lastErrorLine(stderr string) string {
	var last, lastErr string
	sc := bufio.NewScanner(strings.NewReader(stderr))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		last = line
		if strings.HasPrefix(line, "ERROR:") {
			lastErr = strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	if lastErr != "" {
		return lastErr
	}
	if last != "" {
		return last
	}
	return "download failed"
}

func lastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	return strings.TrimSpace(string(lines[len(lines)-1]))
}

func listDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths
}
