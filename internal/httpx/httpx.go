// Package httpx wraps http.Client with the defaults shared by the outbound API clients.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// maxBodyBytes caps how much of an upstream reply is read into memory.
const maxBodyBytes = 1 << 20

// Waiter blocks until a request to rawURL may be sent.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client is a small wrapper around http.Client that stamps a user agent on every request
// and, when Limiter is set, waits for a token first.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Limiter   Waiter
}

// New builds a client with the given overall request timeout.
func New(timeout time.Duration, userAgent string) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: userAgent,
	}
}

// Do sends the request bound to ctx.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx, req.URL.String()); err != nil {
			return nil, err
		}
	}
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		redacted := RedactURL(req.URL)
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = redacted
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, redacted, err)
	}
	return resp, nil
}

// RedactURL hides userinfo and every query value, since API keys travel in the query.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	if clean.RawQuery != "" {
		q := clean.Query()
		for k := range q {
			q[k] = []string{"xxxxx"}
		}
		clean.RawQuery = q.Encode()
	}
	return clean.Redacted()
}

// ReadBody drains and closes the response body, bounded to maxBodyBytes.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// StatusError reports a non-2xx upstream reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// CheckStatus returns a *StatusError for non-2xx replies.
func CheckStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: snippet}
}
