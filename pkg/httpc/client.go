// Package httpc provides the retrying HTTP client used for all registry API
// calls. Retries are linear: the delay before attempt N is throttle * N. Any
// 4xx response is terminal because retrying an auth or validation failure
// cannot succeed; 5xx responses, timeouts and network errors are retried
// until the budget is exhausted.
package httpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultTimeout bounds a single request attempt, not the whole retry loop.
const DefaultTimeout = 30 * time.Second

// StatusError is returned for non-2xx responses so that callers can branch
// on authentication (401/403) vs not-found (404) vs generic failures.
type StatusError struct {
	Code   int
	Status string
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed: %s", e.URL, e.Status)
}

// StatusCode extracts the HTTP status code from an error chain, returning 0
// when the error does not carry one (network error, timeout).
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsNotFound reports whether err represents an HTTP 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// Options configures the retry behavior of a Client.
type Options struct {
	// Retries is the number of retries after the initial attempt.
	Retries int
	// Throttle is the base delay between attempts; attempt N waits
	// Throttle * N before executing.
	Throttle time.Duration
	// Timeout bounds each individual attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// UserAgent is sent on every request when non-empty.
	UserAgent string
}

// Client wraps retryablehttp with the retry policy described above.
type Client struct {
	rc        *retryablehttp.Client
	userAgent string
}

// New builds a Client from the given options.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = opts.Retries
	rc.HTTPClient = &http.Client{Timeout: timeout}
	rc.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		// attemptNum is zero-based: the first retry waits Throttle * 1.
		return opts.Throttle * time.Duration(attemptNum+1)
	}
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return false, nil
		}
		return resp.StatusCode >= 500, nil
	}

	return &Client{rc: rc, userAgent: opts.UserAgent}
}

// Do executes the request with retries. Responses with a non-2xx status are
// drained, closed and converted into a *StatusError; on success the caller
// owns the response body.
func (c *Client) Do(ctx context.Context, method, url string, headers http.Header, body io.Reader) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request for %s: %w", method, url, err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, URL: url}
	}

	return resp, nil
}

// GetJSON fetches url and decodes the response body as JSON into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers http.Header, out any) error {
	resp, err := c.Do(ctx, http.MethodGet, url, headers, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}
