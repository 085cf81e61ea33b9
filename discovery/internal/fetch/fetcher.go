// Package fetch implements the shared HTTP client used by source adapters
// and validation probes: per-request timeout, response size cap, redirect
// limit, and throttle detection.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrThrottled is returned when the upstream signals rate limiting (429 or
// 503 with Retry-After). Callers report it to their pacer and keep partial
// results instead of aborting.
var ErrThrottled = errors.New("fetch: upstream throttled")

// Result contains the outcome of a fetch.
type Result struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	FinalURL   string // after redirects
	RetryAfter time.Duration
}

// Config configures the fetcher.
type Config struct {
	Timeout   time.Duration // per-request timeout. Default: 20s.
	MaxBytes  int64         // max response body size. Default: 2MB.
	UserAgent string
	// Transport overrides the HTTP transport. Tests use it to trust local
	// TLS servers.
	Transport http.RoundTripper `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 2 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "sneaklink/1.0"
	}
}

// Fetcher performs HTTP requests with bounded bodies and redirects.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher. Redirects are capped at 5 hops.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		client: &http.Client{
			Transport: cfg.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Get retrieves a URL. Extra headers may be nil. A 429 (or 503 carrying
// Retry-After) returns ErrThrottled with Result.RetryAfter populated; other
// non-2xx statuses return the Result plus an "http NNN" error so the caller
// can classify.
func (f *Fetcher) Get(ctx context.Context, url string, headers map[string]string) (*Result, error) {
	return f.do(ctx, http.MethodGet, url, headers)
}

// Head performs a HEAD request under the same timeout and throttle rules.
// Used by fingerprint probes where only status and headers matter.
func (f *Fetcher) Head(ctx context.Context, url string, headers map[string]string) (*Result, error) {
	return f.do(ctx, http.MethodHead, url, headers)
}

func (f *Fetcher) do(ctx context.Context, method, url string, headers map[string]string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http %s: %w", method, err)
	}
	defer resp.Body.Close()

	res := &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		FinalURL:   resp.Request.URL.String(),
	}

	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != "") {
		res.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return res, ErrThrottled
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	res.Body = body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, fmt.Errorf("http %d", resp.StatusCode)
	}
	return res, nil
}

// parseRetryAfter handles the delta-seconds form. The HTTP-date form is rare
// on the APIs we poll; it falls back to zero and the pacer's own backoff
// window applies.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
