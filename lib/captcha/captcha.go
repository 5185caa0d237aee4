// Package captcha is a thin client for the external CAPTCHA service's
// admin API. linkgate never interprets the rate-limit configuration it
// carries; it authorizes callers and relays bytes.
package captcha

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/uvensys/linkgate"
)

// ErrNotConfigured is returned when the client is missing its base URL or
// admin key. Operator-fixable, never client-retryable.
var ErrNotConfigured = errors.New("captcha: API URL or admin key not configured")

// ratelimitPath is the admin rate-limit configuration endpoint on the
// CAPTCHA service.
const ratelimitPath = "/admin/ratelimit"

// maxResponseSize caps how much of an upstream response gets relayed. The
// rate-limit configuration is a small JSON document; anything bigger is a
// misbehaving upstream and gets cut off.
const maxResponseSize = 1 << 20

// Response is a relayed upstream response: status and raw body, passed
// through to the caller verbatim.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the upstream considered the request successful.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Client struct {
	baseURL  string
	adminKey string
	cli      *http.Client
}

// New builds a client for the CAPTCHA admin API. Calls carry a hard
// timeout; an unbounded wait on a remote admin endpoint is a defect.
func New(baseURL, adminKey string) *Client {
	return &Client{
		baseURL:  baseURL,
		adminKey: adminKey,
		cli: &http.Client{
			Timeout: linkgate.UpstreamTimeout,
		},
	}
}

// Configured reports whether both the base URL and the admin key are set.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.adminKey != ""
}

func (c *Client) do(ctx context.Context, method string, body []byte) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+ratelimitPath, rdr)
	if err != nil {
		return nil, fmt.Errorf("captcha: can't build request: %w", err)
	}

	req.Header.Set("x-admin-key", c.adminKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("captcha: upstream call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("captcha: can't read upstream response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       data,
	}, nil
}

// GetRateLimit fetches the current rate-limit configuration.
func (c *Client) GetRateLimit(ctx context.Context) (*Response, error) {
	return c.do(ctx, http.MethodGet, nil)
}

// UpdateRateLimit forwards a caller-supplied JSON body to the upstream.
func (c *Client) UpdateRateLimit(ctx context.Context, body []byte) (*Response, error) {
	return c.do(ctx, http.MethodPost, body)
}
