// Package trigger posts stage invocations: JSON bodies sent to another
// stage endpoint with an optional bearer credential.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// Poster sends one stage invocation.
type Poster interface {
	Post(ctx context.Context, url string, body any) error
}

// Client is the HTTP Poster.
type Client struct {
	http  *http.Client
	creds Credentials
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithCredentials attaches a bearer token for the target audience to every
// request.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) {
		c.creds = creds
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{http: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Post marshals body as JSON and posts it to url. Non-2xx responses are
// errors; retryable statuses are marked transient.
func (c *Client) Post(ctx context.Context, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "trigger: marshal body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "trigger: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.creds != nil {
		tok, err := c.creds.Token(ctx, url)
		if err != nil {
			return eris.Wrapf(err, "trigger: token for %s", url)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "trigger: post %s", url)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resilience.WrapStatus(
			eris.Errorf("trigger: %s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(msg)),
			resp.StatusCode,
		)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
