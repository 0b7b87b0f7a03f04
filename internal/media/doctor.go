package media

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/signreel/signreel/internal/subprocess"
)

const defaultCacheTTL = 5 * time.Minute

// Tool names reported by the doctor.
const (
	ToolFFmpeg  = "ffmpeg"
	ToolFFprobe = "ffprobe"
	ToolYTDLP   = "yt-dlp"
)

// ToolInfo represents the availability status of a single executable.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities describes which external tools the service can use.
type Capabilities struct {
	Tools     map[string]ToolInfo `json:"tools"`
	CanDecode bool                `json:"can_decode"`
	CanEncode bool                `json:"can_encode"`
	CanFetch  bool                `json:"can_fetch"`
	ProbedAt  time.Time           `json:"probed_at"`
}

// Tool is an executable the doctor checks.
type Tool struct {
	Name        string
	Path        string
	VersionArgs []string
}

// Doctor probes the installed toolchain.
type Doctor interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// ToolDoctor runs each tool's version command.
type ToolDoctor struct {
	tools   []Tool
	timeout time.Duration
	logger  *slog.Logger
}

// NewToolDoctor checks ffmpeg and ffprobe from cfg plus any extra tools.
func NewToolDoctor(cfg Config, extra ...Tool) *ToolDoctor {
	cfg = cfg.withDefaults()
	tools := []Tool{
		{Name: ToolFFmpeg, Path: cfg.FFmpegPath, VersionArgs: []string{"-version"}},
		{Name: ToolFFprobe, Path: cfg.FFprobePath, VersionArgs: []string{"-version"}},
	}
	return &ToolDoctor{tools: append(tools, extra...), timeout: cfg.ProbeTimeout, logger: cfg.Logger}
}

func (d *ToolDoctor) Probe(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	caps := &Capabilities{Tools: make(map[string]ToolInfo, len(d.tools))}
	for _, tool := range d.tools {
		caps.Tools[tool.Name] = d.check(ctx, tool)
	}

	caps.CanDecode = caps.Tools[ToolFFmpeg].Available && caps.Tools[ToolFFprobe].Available
	caps.CanEncode = caps.Tools[ToolFFmpeg].Available
	if info, ok := caps.Tools[ToolYTDLP]; ok {
		caps.CanFetch = info.Available
	} else {
		caps.CanFetch = true
	}
	caps.ProbedAt = time.Now()

	d.logger.Info("doctor probe complete",
		"decode", caps.CanDecode,
		"encode", caps.CanEncode,
		"fetch", caps.CanFetch,
	)
	return caps, nil
}

func (d *ToolDoctor) check(ctx context.Context, tool Tool) ToolInfo {
	path, err := subprocess.Resolve(tool.Path)
	if err != nil {
		return ToolInfo{Error: err.Error()}
	}
	res := subprocess.Run(ctx, d.logger, path, tool.VersionArgs...)
	if err := res.Error(); err != nil {
		return ToolInfo{Path: path, Error: err.Error()}
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(res.Stdout)), "\n")
	return ToolInfo{Available: true, Path: path, Version: strings.TrimSpace(line)}
}

// CachedDoctor wraps a Doctor to cache probe results with a configurable TTL.
// This avoids running the tool subprocesses on every status request.
type CachedDoctor struct {
	doctor Doctor
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(doctor Doctor, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		doctor: doctor,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.doctor.Probe(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
