// Package httpx is the HTTP layer for the JSON price feeds. It retries
// transient failures and translates transport and status errors into
// the CLI error codes.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
	"github.com/qinghaihe378-ai/dexroute/internal/version"
)

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  fmt.Sprintf("%s/%s", version.CLIName, version.CLIVersion),
	}
}

// GetJSON issues a GET against url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build feed request", err)
	}
	return c.DoJSON(ctx, req, out)
}

// DoJSON executes the request with retries on timeouts, rate limits and
// 5xx responses. Retries reuse GetBody when the request carries one.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(retryDelay(attempt)):
			}
		}

		header, retryable, err := c.attempt(ctx, req, out)
		if err == nil {
			return header, nil
		}
		lastErr = err
		if !retryable || attempt == c.retries {
			return header, lastErr
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

func (c *Client) attempt(ctx context.Context, req *http.Request, out any) (http.Header, bool, error) {
	cloneReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, false, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
		}
		cloneReq.Body = body
	}

	resp, err := c.httpClient.Do(cloneReq)
	if err != nil {
		return nil, true, transportError(err)
	}

	buf, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp.Header, false, clierr.Wrap(clierr.CodeUnavailable, "read feed response", readErr)
	}

	if statusErr, retryable := classifyStatus(resp.StatusCode); statusErr != nil {
		return resp.Header, retryable, statusErr
	}

	if out == nil {
		return resp.Header, false, nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return resp.Header, false, clierr.New(clierr.CodeUnavailable, "feed returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return resp.Header, false, clierr.Wrap(clierr.CodeUnavailable, "decode feed JSON", err)
	}
	return resp.Header, false, nil
}

// classifyStatus maps a non-2xx status to an error and whether the
// request is worth retrying.
func classifyStatus(status int) (error, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return clierr.New(clierr.CodeRateLimited, "feed rate limited request"), true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return clierr.New(clierr.CodeAuth, "feed authentication failed"), false
	case status >= http.StatusInternalServerError:
		return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("feed unavailable (status %d)", status)), true
	case status < 200 || status >= 300:
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("feed returned unexpected status %d", status)), false
	}
	return nil, false
}

func transportError(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "feed timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "feed request failed", err)
}

func retryDelay(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
