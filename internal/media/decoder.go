package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/signreel/signreel/internal/subprocess"
)

// showinfo prints one line per frame, e.g.
// [Parsed_showinfo_0 @ 0x...] n:   0 pts:  12800 pts_time:1       duration: ...
var showinfoPTS = regexp.MustCompile(`\bn:\s*\d+\s+pts:\s*-?\d+\s+pts_time:\s*(-?[0-9.eE+-]+)`)

// Frames without a timestamp print "pts:NOPTS pts_time:NOPTS". They still
// occupy a slot on stdout, so they are reported as NaN.
var showinfoNoPTS = regexp.MustCompile(`\bn:\s*\d+\s+pts:\s*NOPTS`)

// FFmpegDecoder decodes video frames through an ffmpeg subprocess. Frame
// bytes are read as raw bgr24 from stdout and timestamps are taken from the
// showinfo filter on stderr.
type FFmpegDecoder struct {
	cfg Config
}

func NewDecoder(cfg Config) *FFmpegDecoder {
	return &FFmpegDecoder{cfg: cfg.withDefaults()}
}

// Open probes path and returns a reader positioned at the start of the stream.
// A file that cannot be probed or has no video stream fails to open.
func (d *FFmpegDecoder) Open(ctx context.Context, path string) (FrameReader, error) {
	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	probe, err := Probe(probeCtx, d.cfg.Logger, d.cfg.FFprobePath, path)
	if err != nil {
		return nil, err
	}
	geom, err := probe.Geometry()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &ffmpegReader{
		ctx:    ctx,
		bin:    d.cfg.FFmpegPath,
		path:   path,
		geom:   geom,
		logger: d.cfg.Logger,
	}, nil
}

type ffmpegReader struct {
	ctx    context.Context
	bin    string
	path   string
	geom   Geometry
	logger *slog.Logger

	seek    float64
	index   int
	proc    *decodeProcess
	done    bool
	lastErr error
}

func (r *ffmpegReader) Geometry() Geometry {
	return r.geom
}

// Seek restarts decoding near t. ffmpeg seeks to the keyframe before t, so
// frames earlier than t may follow.
func (r *ffmpegReader) Seek(t float64) error {
	if t < 0 {
		t = 0
	}
	if r.proc != nil {
		r.proc.stop()
		r.proc = nil
	}
	r.seek = t
	r.index = 0
	r.done = false
	r.lastErr = nil
	return nil
}

func (r *ffmpegReader) Read() (Frame, error) {
	if r.done {
		if r.lastErr != nil {
			return Frame{}, r.lastErr
		}
		return Frame{}, io.EOF
	}
	if r.proc == nil {
		proc, err := startDecode(r.ctx, r.bin, r.path, r.seek, r.logger)
		if err != nil {
			r.finish(err)
			return Frame{}, err
		}
		r.proc = proc
	}

	pix := make([]byte, r.geom.FrameSize())
	if _, err := io.ReadFull(r.proc.stdout, pix); err != nil {
		if errors.Is(err, io.EOF) {
			if werr := r.proc.wait(); werr != nil {
				r.finish(werr)
				return Frame{}, werr
			}
			r.finish(nil)
			return Frame{}, io.EOF
		}
		err = fmt.Errorf("read frame %d: %w", r.index, err)
		r.finish(err)
		return Frame{}, err
	}

	pts, err := r.proc.nextPTS(r.ctx)
	if err != nil {
		err = fmt.Errorf("timestamp of frame %d: %w", r.index, err)
		r.finish(err)
		return Frame{}, err
	}

	f := Frame{Index: r.index, PTS: pts, Width: r.geom.Width, Height: r.geom.Height, Pix: pix}
	r.index++
	return f, nil
}

func (r *ffmpegReader) finish(err error) {
	r.done = true
	r.lastErr = err
	if r.proc != nil {
		r.proc.stop()
		r.proc = nil
	}
}

func (r *ffmpegReader) Close() error {
	if r.proc != nil {
		r.proc.stop()
		r.proc = nil
	}
	r.done = true
	return nil
}

// decodeProcess is one running ffmpeg decode.
type decodeProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	pts    chan float64
	tail   *subprocess.Tail

	waitOnce sync.Once
	waitErr  error
}

func decodeArgs(path string, start float64) []string {
	return []string{
		"-hide_banner", "-nostdin", "-nostats",
		"-noautorotate",
		"-noaccurate_seek",
		"-ss", strconv.FormatFloat(start, 'f', 3, 64),
		"-i", path,
		"-copyts",
		"-map", "0:v:0",
		"-vf", "showinfo",
		"-fps_mode", "passthrough",
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"pipe:1",
	}
}

func startDecode(ctx context.Context, bin, path string, start float64, logger *slog.Logger) (*decodeProcess, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, bin, decodeArgs(path, start)...)
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	p := &decodeProcess{
		cmd:    cmd,
		cancel: cancel,
		stdout: stdout,
		pts:    make(chan float64, 256),
		tail:   subprocess.NewTail(subprocess.MaxStderrBytes),
	}
	go p.scanStderr(stderr, logger)
	return p, nil
}

// scanStderr feeds showinfo timestamps to the pts channel and keeps the other
// lines for diagnostics.
func (p *decodeProcess) scanStderr(stderr io.Reader, logger *slog.Logger) {
	defer close(p.pts)

	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		m := showinfoPTS.FindStringSubmatch(line)
		if m == nil && showinfoNoPTS.MatchString(line) {
			p.pts <- math.NaN()
			continue
		}
		if m == nil {
			if strings.Contains(line, "Parsed_showinfo") {
				continue
			}
			p.tail.Write([]byte(line + "\n"))
			continue
		}
		t, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			logger.Debug("unparseable showinfo timestamp", "line", line)
			t = math.NaN()
		}
		p.pts <- t
	}
}

func (p *decodeProcess) nextPTS(ctx context.Context) (float64, error) {
	select {
	case t, ok := <-p.pts:
		if !ok {
			return 0, fmt.Errorf("ffmpeg reported no timestamp: %s", subprocess.Truncate(strings.TrimSpace(p.tail.String()), 512))
		}
		return t, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *decodeProcess) wait() error {
	p.waitOnce.Do(func() {
		// drain so the stderr scanner can finish
		for range p.pts {
		}
		err := p.cmd.Wait()
		if err != nil {
			p.waitErr = fmt.Errorf("ffmpeg decode: %w: %s", err, subprocess.Truncate(strings.TrimSpace(p.tail.String()), 512))
		}
		p.cancel()
	})
	return p.waitErr
}

func (p *decodeProcess) stop() {
	p.cancel()
	p.stdout.Close()
	p.wait()
}
