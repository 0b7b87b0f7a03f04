// Package subprocess runs external tools (ffmpeg, ffprobe, yt-dlp) with
// bounded stderr capture and structured results.
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	MaxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	// waitDelay bounds how long Wait blocks on pipes held open by orphaned
	// grandchildren after the process is killed.
	waitDelay = 2 * time.Second
)

// Result is the structured outcome of running a subprocess.
type Result struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     []byte        `json:"-"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r Result) IsSuccess() bool { return r.ExitCode == 0 && r.Err == nil }

// Error describes a failed run, or returns nil for a successful one.
func (r Result) Error() error {
	if r.IsSuccess() {
		return nil
	}
	if r.Err != nil && r.ExitCode < 0 {
		return r.Err
	}
	return fmt.Errorf("exit status %d: %s", r.ExitCode, Truncate(strings.TrimSpace(r.StderrTail), 512))
}

// Run executes name with args and waits for it. Stdout is captured in full;
// stderr keeps only the last MaxStderrBytes.
func Run(ctx context.Context, logger *slog.Logger, name string, args ...string) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	var stdout bytes.Buffer
	stderr := NewTail(MaxStderrBytes)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if logger != nil {
		logger.Debug("executing command", "cmd", name, "args", args)
	}

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s: %w", name, ctxErr)
			exitCode = -1
		}
	}

	result := Result{
		ExitCode:   exitCode,
		Stdout:     stdout.Bytes(),
		StderrTail: stderr.String(),
		Duration:   elapsed,
		Err:        err,
	}

	if logger != nil {
		if exitCode != 0 {
			logger.Warn("command failed",
				"cmd", name,
				"exit_code", exitCode,
				"duration_ms", elapsed.Milliseconds(),
				"stderr_tail", Truncate(result.StderrTail, 512),
			)
		} else {
			logger.Debug("command succeeded", "cmd", name, "duration_ms", elapsed.Milliseconds())
		}
	}

	return result
}

// IsNotFound reports whether err means the executable does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// Resolve finds a usable binary, trying preferred first and then fallbacks.
func Resolve(preferred string, fallbacks ...string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		if len(fallbacks) == 0 {
			return "", fmt.Errorf("configured binary %q not found: %w", preferred, exec.ErrNotFound)
		}
	}
	for _, name := range fallbacks {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no binary found on PATH (tried %s): %w", strings.Join(append([]string{preferred}, fallbacks...), ", "), exec.ErrNotFound)
}

// Truncate keeps the last maxLen bytes of s.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// Tail is an io.Writer that keeps only the last limit bytes. It is safe for
// concurrent use.
type Tail struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

var _ io.Writer = (*Tail)(nil)

func NewTail(limit int) *Tail {
	return &Tail{limit: limit}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		// Keep only the tail
		b := t.buf.Bytes()
		keep := append([]byte(nil), b[len(b)-t.limit:]...)
		t.buf.Reset()
		t.buf.Write(keep)
	}
	return n, nil
}

func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
