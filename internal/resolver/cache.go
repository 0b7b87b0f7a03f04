package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/metafates/gache"
	"github.com/spf13/afero"
)

// gacheFs adapts an afero filesystem to the gache.FileSystem interface.
type gacheFs struct {
	fs afero.Fs
}

func (g gacheFs) OpenFile(name string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	return g.fs.OpenFile(name, flag, perm)
}

func (g gacheFs) MkdirAll(path string, perm os.FileMode) error {
	return g.fs.MkdirAll(path, perm)
}

type unavailableEntry struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

type unavailableData struct {
	Locators map[string]unavailableEntry `json:"locators"`
}

// CachingResolver remembers unavailable locators on disk so they are skipped
// without network access until the TTL passes. Temporary failures are passed
// through without being remembered.
type CachingResolver struct {
	next   Resolver
	cache  *gache.Cache[*unavailableData]
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewCachingResolver(next Resolver, fs afero.Fs, path string, ttl time.Duration, logger *slog.Logger) *CachingResolver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &CachingResolver{
		next: next,
		cache: gache.New[*unavailableData](&gache.Options{
			Path:       path,
			FileSystem: gacheFs{fs: fs},
		}),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func (c *CachingResolver) Name() string {
	return c.next.Name()
}

func (c *CachingResolver) Resolve(ctx context.Context, locator, dir string) (*Source, error) {
	if entry, ok := c.lookup(locator); ok {
		c.logger.Debug("skipping known unavailable locator", "locator", locator, "since", entry.At)
		return nil, &UnavailableError{Locator: locator, Reason: entry.Reason, Cached: true}
	}

	src, err := c.next.Resolve(ctx, locator, dir)
	var ue *UnavailableError
	if errors.As(err, &ue) && !ue.Temporary {
		if cerr := c.mark(locator, err); cerr != nil {
			c.logger.Warn("failed to cache unavailable locator", "locator", locator, "error", cerr)
		}
	}
	return src, err
}

func (c *CachingResolver) lookup(locator string) (unavailableEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, expired, err := c.cache.Get()
	if err != nil || expired || data == nil {
		return unavailableEntry{}, false
	}
	entry, ok := data.Locators[locator]
	if !ok || c.now().Sub(entry.At) >= c.ttl {
		return unavailableEntry{}, false
	}
	return entry, true
}

func (c *CachingResolver) mark(locator string, cause error) error {
	reason := cause.Error()
	var ue *UnavailableError
	if errors.As(cause, &ue) {
		reason = ue.Reason
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, expired, err := c.cache.Get()
	if err != nil || expired || data == nil || data.Locators == nil {
		data = &unavailableData{Locators: make(map[string]unavailableEntry)}
	}

	now := c.now()
	for k, e := range data.Locators {
		if now.Sub(e.At) >= c.ttl {
			delete(data.Locators, k)
		}
	}
	data.Locators[locator] = unavailableEntry{Reason: reason, At: now}
	return c.cache.Set(data)
}

// Forget drops a locator from the cache.
func (c *CachingResolver) Forget(locator string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, expired, err := c.cache.Get()
	if err != nil {
		return err
	}
	if expired || data == nil {
		return nil
	}
	delete(data.Locators, locator)
	return c.cache.Set(data)
}
