package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/signreel/signreel/internal/subprocess"
)

// FFmpegEncoder writes raw bgr24 frames to an ffmpeg subprocess that encodes
// the output file.
type FFmpegEncoder struct {
	cfg Config
}

func NewEncoder(cfg Config) *FFmpegEncoder {
	return &FFmpegEncoder{cfg: cfg.withDefaults()}
}

func encodeArgs(path string, geom Geometry, fps int, codec string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-nostats",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", geom.String(),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-an",
		"-c:v", codec,
		"-pix_fmt", "yuv420p",
		path,
	}
}

// Create starts an encoder for path with a fixed geometry and frame rate.
func (e *FFmpegEncoder) Create(ctx context.Context, path string, geom Geometry, fps int) (Sink, error) {
	if geom.IsZero() {
		return nil, fmt.Errorf("invalid output geometry %s", geom)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", fps)
	}

	cmd := exec.CommandContext(ctx, e.cfg.FFmpegPath, encodeArgs(path, geom, fps, e.cfg.Codec)...)
	cmd.WaitDelay = 2 * time.Second
	tail := subprocess.NewTail(subprocess.MaxStderrBytes)
	cmd.Stderr = tail
	cmd.Stdout = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg encoder: %w", err)
	}

	e.cfg.Logger.Debug("encoder started", "output", path, "geometry", geom.String(), "fps", fps, "codec", e.cfg.Codec)

	return &ffmpegSink{
		cmd:    cmd,
		stdin:  stdin,
		tail:   tail,
		geom:   geom,
		logger: e.cfg.Logger,
	}, nil
}

type ffmpegSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	tail   *subprocess.Tail
	geom   Geometry
	logger *slog.Logger

	frames    int
	misfits   int
	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegSink) Write(f Frame) error {
	if f.Width != s.geom.Width || f.Height != s.geom.Height {
		if s.misfits == 0 {
			s.logger.Warn("frame geometry differs from output, fitting to canvas",
				"frame", f.Geometry().String(), "output", s.geom.String())
		}
		s.misfits++
	}
	if _, err := s.stdin.Write(FitFrame(f, s.geom)); err != nil {
		return fmt.Errorf("write frame %d: %w: %s", s.frames, err,
			subprocess.Truncate(strings.TrimSpace(s.tail.String()), 512))
	}
	s.frames++
	return nil
}

// Close flushes stdin and waits for ffmpeg to finish the file.
func (s *ffmpegSink) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.stdin.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.cmd.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("ffmpeg encode: %w: %s", err,
				subprocess.Truncate(strings.TrimSpace(s.tail.String()), 512)))
		}
		s.closeErr = errors.Join(errs...)
		if s.misfits > 0 {
			s.logger.Info("encoder closed", "frames", s.frames, "fitted_frames", s.misfits)
		}
	})
	return s.closeErr
}
