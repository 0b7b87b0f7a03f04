package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"
)

const (
	defaultHTTPTimeout = 5 * time.Minute
	defaultRetryMax    = 2
	defaultMaxBytes    = 512 * 1024 * 1024
	maxPageBytes       = 2 * 1024 * 1024
	maxErrorBody       = 512
	userAgent          = "signreel/1 (+https://github.com/signreel/signreel)"
)

// Transport retries idempotent requests on network errors and retryable
// status codes.
type Transport struct {
	Base http.RoundTripper

	// RetryMax is the number of retries after the first attempt.
	RetryMax int
	Backoff  time.Duration
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// only replayable requests: GET/HEAD without a body
	canRetry := (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil
	retries := t.RetryMax
	if retries < 0 || !canRetry {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 && t.Backoff > 0 {
			select {
			case <-time.After(t.Backoff * time.Duration(attempt)):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
		}

		r := req.Clone(req.Context())
		if r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", userAgent)
		}

		resp, err := base.RoundTrip(r)
		if err == nil {
			se := &StatusError{StatusCode: resp.StatusCode}
			if attempt < retries && se.IsRetryable() {
				io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
				resp.Body.Close()
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
				continue
			}
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// NewHTTPClient returns a client with the retrying transport.
func NewHTTPClient() *http.Client {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{
		Transport: &Transport{Base: base, RetryMax: defaultRetryMax, Backoff: 500 * time.Millisecond},
		Timeout:   defaultHTTPTimeout,
	}
}

// HTTP downloads sources directly. Locators that return an HTML page are
// searched for a video URL (og:video, <video src>, <source src>).
type HTTP struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewHTTP(client *http.Client, maxBytes int64, logger *slog.Logger) *HTTP {
	if client == nil {
		client = NewHTTPClient()
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &HTTP{client: client, maxBytes: maxBytes, logger: logger}
}

func (h *HTTP) Name() string {
	return BackendHTTP
}

func (h *HTTP) Resolve(ctx context.Context, locator, dir string) (*Source, error) {
	u, err := url.Parse(locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &UnavailableError{Locator: locator, Reason: "unsupported locator", Err: err}
	}

	resp, err := h.get(ctx, locator)
	if err != nil {
		return nil, err
	}

	if isHTML(resp.Header.Get("Content-Type")) {
		page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		resp.Body.Close()
		if err != nil {
			return nil, h.transportError(ctx, locator, err)
		}
		media, err := findMediaURL(page, resp.Request.URL)
		if err != nil {
			return nil, &UnavailableError{Locator: locator, Reason: "no video on page", Err: err}
		}
		h.logger.Debug("found media url on page", "locator", locator, "media", media)

		resp, err = h.get(ctx, media)
		if err != nil {
			return nil, err
		}
		if isHTML(resp.Header.Get("Content-Type")) {
			resp.Body.Close()
			return nil, &UnavailableError{Locator: locator, Reason: "media url returned a web page"}
		}
	}
	defer resp.Body.Close()

	if resp.ContentLength > h.maxBytes {
		return nil, &UnavailableError{
			Locator: locator,
			Reason:  fmt.Sprintf("source is %s, limit %s", humanize.IBytes(uint64(resp.ContentLength)), humanize.IBytes(uint64(h.maxBytes))),
		}
	}

	dest := filepath.Join(dir, fileName(resp))
	size, err := h.save(ctx, locator, resp.Body, dest)
	if err != nil {
		return nil, err
	}

	h.logger.Info("source downloaded", "locator", locator, "size", humanize.IBytes(uint64(size)))
	return &Source{
		Locator: locator,
		Path:    dest,
		Paths:   []string{dest},
		Size:    size,
		Backend: BackendHTTP,
	}, nil
}

func (h *HTTP) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &UnavailableError{Locator: rawURL, Reason: "bad url", Err: err}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, h.transportError(ctx, rawURL, err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		se := &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		return nil, &UnavailableError{
			Locator:   rawURL,
			Reason:    http.StatusText(resp.StatusCode),
			Temporary: se.IsRetryable(),
			Err:       se,
		}
	}
	return resp, nil
}

// transportError keeps cancellation fatal and treats other network errors as
// an unavailable source.
func (h *HTTP) transportError(ctx context.Context, locator string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("fetch %s: %w", locator, ctx.Err())
	}
	return &UnavailableError{Locator: locator, Reason: "network error", Temporary: true, Err: err}
}

func (h *HTTP) save(ctx context.Context, locator string, body io.Reader, dest string) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	n, copyErr := io.Copy(f, &limitReader{r: body, remaining: h.maxBytes})
	closeErr := f.Close()

	var tooLarge *tooLargeError
	switch {
	case errors.As(copyErr, &tooLarge):
		return n, &UnavailableError{Locator: locator, Reason: fmt.Sprintf("source exceeds %s", humanize.IBytes(uint64(h.maxBytes)))}
	case copyErr != nil && isWriteError(copyErr):
		return n, fmt.Errorf("write %s: %w", dest, copyErr)
	case copyErr != nil:
		return n, h.transportError(ctx, locator, copyErr)
	case closeErr != nil:
		return n, fmt.Errorf("write %s: %w", dest, closeErr)
	}
	return n, nil
}

func isWriteError(err error) bool {
	var pe *os.PathError
	return errors.As(err, &pe) && pe.Op == "write"
}

type tooLargeError struct{}

func (tooLargeError) Error() string { return "size limit exceeded" }

// limitReader fails once more than remaining bytes are read.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, &tooLargeError{}
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, &tooLargeError{}
	}
	return n, err
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "text/html" || mt == "application/xhtml+xml")
}

// findMediaURL looks for a video URL in an HTML page.
func findMediaURL(page []byte, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, sel := range []string{
		`meta[property="og:video:secure_url"]`,
		`meta[property="og:video:url"]`,
		`meta[property="og:video"]`,
	} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			candidates = append(candidates, v)
		}
	}
	if v, ok := doc.Find("video[src]").First().Attr("src"); ok {
		candidates = append(candidates, v)
	}
	if v, ok := doc.Find("video source[src]").First().Attr("src"); ok {
		candidates = append(candidates, v)
	}

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		ref, err := url.Parse(c)
		if err != nil {
			continue
		}
		abs := ref
		if base != nil {
			abs = base.ResolveReference(ref)
		}
		if abs.Scheme == "http" || abs.Scheme == "https" {
			return abs.String(), nil
		}
	}
	return "", errors.New("no og:video, video or source element")
}

// fileName derives a safe local file name from the response.
func fileName(resp *http.Response) string {
	name := path.Base(resp.Request.URL.Path)
	ext := path.Ext(name)
	if name == "/" || name == "." || ext == "" {
		name = "source"
		ext = ""
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(resp.Header.Get("Content-Type")); len(exts) > 0 {
			name += exts[0]
		} else {
			name += ".mp4"
		}
	}
	return name
}
