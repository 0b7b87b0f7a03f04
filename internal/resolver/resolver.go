// Package resolver retrieves source videos named by dataset locators into a
// request workspace. Backends are interchangeable behind Resolver.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

const (
	BackendYTDLP = "ytdlp"
	BackendHTTP  = "http"
)

// Source is a retrieved, playable source video.
type Source struct {
	Locator string   `json:"locator"`
	Path    string   `json:"path"`
	Paths   []string `json:"paths"` // every path created while resolving
	Size    int64    `json:"size"`
	Backend string   `json:"backend"`
}

// Resolver fetches the video for a locator into dir.
//
// A per-word failure (removed content, access error, unsupported format,
// HTTP error status, per-resolve timeout) is reported as *UnavailableError.
// Any other error is fatal to the request.
type Resolver interface {
	Resolve(ctx context.Context, locator, dir string) (*Source, error)
	Name() string
}

// UnavailableError means the locator cannot be retrieved right now.
type UnavailableError struct {
	Locator   string
	Reason    string
	Cached    bool
	// Temporary marks failures that may clear on retry, such as timeouts,
	// network errors and 5xx or 429 responses. They are not cached.
	Temporary bool
	Err       error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("source %s unavailable: %s", e.Locator, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is a recoverable per-locator failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// StatusError represents a non-success HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors and rate limiting.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Config selects and configures a resolver chain.
type Config struct {
	Backend        string
	Timeout        time.Duration
	YTDLPPath      string
	Format         string
	MaxSourceBytes int64
	CacheFs        afero.Fs
	CachePath      string // empty disables the unavailable cache
	UnavailableTTL time.Duration
	Logger         *slog.Logger
}

// New builds the configured backend wrapped with the per-resolve timeout and
// the unavailable-locator cache.
func New(cfg Config) (Resolver, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "resolver")

	var r Resolver
	switch cfg.Backend {
	case BackendYTDLP, "":
		r = NewYTDLP(cfg.YTDLPPath, cfg.Format, logger)
	case BackendHTTP:
		r = NewHTTP(NewHTTPClient(), cfg.MaxSourceBytes, logger)
	default:
		return nil, fmt.Errorf("unknown resolver backend %q", cfg.Backend)
	}

	if cfg.Timeout > 0 {
		r = WithTimeout(r, cfg.Timeout)
	}
	if cfg.CachePath != "" && cfg.UnavailableTTL > 0 {
		r = NewCachingResolver(r, cfg.CacheFs, cfg.CachePath, cfg.UnavailableTTL, logger)
	}
	return r, nil
}

type timeoutResolver struct {
	next    Resolver
	timeout time.Duration
}

// WithTimeout bounds each Resolve call. Hitting the bound makes the locator
// unavailable; cancellation of the parent context stays fatal.
func WithTimeout(next Resolver, timeout time.Duration) Resolver {
	return &timeoutResolver{next: next, timeout: timeout}
}

func (t *timeoutResolver) Name() string {
	return t.next.Name()
}

func (t *timeoutResolver) Resolve(ctx context.Context, locator, dir string) (*Source, error) {
	rctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	src, err := t.next.Resolve(rctx, locator, dir)
	if err != nil && ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) && !IsUnavailable(err) {
		return nil, &UnavailableError{
			Locator:   locator,
			Reason:    fmt.Sprintf("timed out after %s", t.timeout),
			Temporary: true,
			Err:       err,
		}
	}
	return src, err
}
