// Package httpclient wraps net/http with the retry policy the scheduler
// depends on: a bounded number of attempts with exponential backoff and
// jitter, HTTP status >= 400 retryable except 404 (terminal), network errors
// always retryable until the attempt budget is exhausted. Ported from the
// teacher's internal/downloader.fetchOne retry loop.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/APTlantis/http-tree-mirror/internal/telemetry"
)

// Config configures a Client.
type Config struct {
	UserAgent string
	// FollowRedirects disables automatic redirect following when false, so
	// the driver can observe directory-alias redirects as such instead of
	// the transport transparently chasing them.
	FollowRedirects bool
	Timeout         time.Duration
	Retries         int
	RetryBase       time.Duration
	RetryMax        time.Duration
	// BindAddress optionally binds outbound connections to a local address,
	// for hosts with multiple egress IPs.
	BindAddress string
}

// Client is a retrying HTTP client for listing, HEAD-probing and streaming
// downloads.
type Client struct {
	http      *http.Client
	userAgent string
	retries   int
	retryBase time.Duration
	retryMax  time.Duration
}

// ErrNotFound is returned when the server answers 404; it is always
// terminal and never retried.
var ErrNotFound = fmt.Errorf("httpclient: 404 not found")

// New builds a Client from cfg, applying sane defaults for zero fields.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = time.Second
	}
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if cfg.BindAddress != "" {
		if addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddress+":0"); err == nil {
			dialer.LocalAddr = addr
		} else {
			slog.Warn("invalid bind address, ignoring", "bind_address", cfg.BindAddress, "err", err)
		}
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   256,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	httpClient := &http.Client{Transport: transport, Timeout: timeout}
	if !cfg.FollowRedirects {
		httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "mirror-sync/1.0"
	}

	return &Client{
		http:      httpClient,
		userAgent: userAgent,
		retries:   retries,
		retryBase: retryBase,
		retryMax:  retryMax,
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func retryable(statusCode int) bool {
	if statusCode == http.StatusNotFound {
		return false
	}
	return statusCode >= 400
}

func (c *Client) backoff(attempt int) time.Duration {
	back := c.retryBase << attempt
	if back > c.retryMax || back <= 0 {
		back = c.retryMax
	}
	jitter := 0.5 + rand.Float64()/2
	return time.Duration(float64(back) * jitter)
}

// do executes method against url with the retry policy and returns the first
// response whose status is neither 404 nor retryable (i.e. 1xx-3xx); the
// caller owns that response and must close its body.
func (c *Client) do(ctx context.Context, method, url string, kind string) (*http.Response, error) {
	var lastErr error
	attempts := c.retries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := c.newRequest(ctx, method, url)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			telemetry.Requests.WithLabelValues(kind, "network-error").Inc()
		} else if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			telemetry.Requests.WithLabelValues(kind, "404").Inc()
			return nil, ErrNotFound
		} else if retryable(resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("httpclient: %s %s: HTTP %d", method, url, resp.StatusCode)
			telemetry.Requests.WithLabelValues(kind, "http-error").Inc()
		} else {
			telemetry.Requests.WithLabelValues(kind, "ok").Inc()
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < attempts-1 {
			sleep := c.backoff(attempt)
			telemetry.Retries.Inc()
			slog.Warn("retrying request", "method", method, "url", url, "attempt", attempt+1, "max", attempts, "backoff", sleep.String(), "err", lastErr)
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// GetBody performs a retrying GET and buffers the whole body, returning the
// final (post-redirect, when FollowRedirects is set) URL. Used by index
// parsers, which need the whole page in memory anyway.
func (c *Client) GetBody(ctx context.Context, url string) (finalURL string, body []byte, err error) {
	resp, err := c.do(ctx, http.MethodGet, url, "list")
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if isRedirectStatus(resp.StatusCode) {
		loc := resp.Header.Get("Location")
		return resp.Request.URL.String(), nil, &RedirectError{Location: loc}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	return resp.Request.URL.String(), b, nil
}

// RedirectError signals that the server answered with a redirect instead of
// a page, carrying the Location header for the caller to interpret.
type RedirectError struct {
	Location string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("httpclient: redirected to %s", e.Location)
}

// RedirectLocation implements the narrow interface index parsers use to
// detect a redirect result without importing httpclient directly.
func (e *RedirectError) RedirectLocation() string { return e.Location }

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// Head performs a retrying HEAD request and returns the response with its
// (empty) body already drained and closed; only headers are meaningful.
func (c *Client) Head(ctx context.Context, url string) (*http.Response, error) {
	resp, err := c.do(ctx, http.MethodHead, url, "head")
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp, nil
}

// GetStream performs a retrying GET and returns the response body for the
// caller to stream-copy; the caller owns and must close the returned body.
func (c *Client) GetStream(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url, "download")
}
