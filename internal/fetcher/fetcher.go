package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/nholik/freshness-sentinel/internal/manifest"
)

const defaultMaxBytes int64 = 64 << 10

// Fetcher retrieves the currently deployed manifest.
type Fetcher interface {
	Fetch(ctx context.Context) (manifest.VersionManifest, error)
}

// FetchError reports a transport failure or a non-success status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the next cycle is likely to succeed where this one failed.
func (e *FetchError) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Option customizes fetcher behavior.
type Option func(*HTTPFetcher)

// WithClock overrides the clock used for cache-busting query values.
func WithClock(now func() time.Time) Option {
	return func(f *HTTPFetcher) {
		f.now = now
	}
}

// HTTPFetcher retrieves version.json over HTTP, bypassing every cache on the way.
type HTTPFetcher struct {
	url      *url.URL
	client   *retryablehttp.Client
	maxBytes int64
	now      func() time.Time
}

// NewClient returns an HTTP client that never retries within a call: a failed
// check is retried by the next scheduled cycle instead.
func NewClient(timeout time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timeout}
	return client
}

// NewHTTPFetcher constructs an HTTPFetcher for the given manifest URL.
func NewHTTPFetcher(manifestURL string, timeout time.Duration, maxBytes int64, opts ...Option) (*HTTPFetcher, error) {
	if strings.TrimSpace(manifestURL) == "" {
		return nil, errors.New("manifest url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	parsed, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("parse manifest url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("manifest url must include scheme and host")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	f := &HTTPFetcher{
		url:      parsed,
		client:   NewClient(timeout),
		maxBytes: maxBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// URL returns the manifest URL without the cache-busting value.
func (f *HTTPFetcher) URL() string {
	return f.url.String()
}

// Fetch downloads and decodes the manifest.
func (f *HTTPFetcher) Fetch(ctx context.Context) (manifest.VersionManifest, error) {
	target := f.cacheBustedURL()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return manifest.VersionManifest{}, &FetchError{URL: target, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return manifest.VersionManifest{}, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxBytes))
		return manifest.VersionManifest{}, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := ReadWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		return manifest.VersionManifest{}, &FetchError{URL: target, Err: err}
	}

	return manifest.Decode(body)
}

func (f *HTTPFetcher) cacheBustedURL() string {
	u := *f.url
	stamp := strconv.FormatInt(f.now().UnixMilli(), 10)
	if u.RawQuery == "" {
		u.RawQuery = stamp
	} else {
		u.RawQuery = u.RawQuery + "&" + stamp
	}
	return u.String()
}

// ReadWithLimit reads r fully, failing when it holds more than maxBytes.
func ReadWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBytes)
	}
	return body, nil
}
