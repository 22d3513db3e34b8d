// Package transport wraps net/http with static headers, status classification
// and a retry policy shared by every upstream call.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"ReportHarvester/internal/retry"
)

// ErrEmptyBody is returned when an upstream answers 200 with no content.
var ErrEmptyBody = errors.New("transport: empty response body")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code   int
	Status string
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s returned %s", e.URL, e.Status)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	switch e.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.Code >= http.StatusInternalServerError
}

// IsTransient classifies errors that a retry may cure: network failures,
// truncated reads, empty bodies and 408/429/5xx responses. Decode errors and
// other statuses are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyBody) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// RequestFunc builds a fresh request for every attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Client sends requests with static headers under a retry policy.
type Client struct {
	http    *http.Client
	headers map[string]string
	policy  retry.Policy
}

// NewClient wires an HTTP client; a nil client gets a 30s timeout default.
func NewClient(client *http.Client, headers map[string]string, policy retry.Policy) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	return &Client{http: client, headers: headers, policy: policy}
}

// Fetch performs the request and returns the whole body. Empty bodies and
// non-2xx statuses are errors, retried when transient.
func (c *Client) Fetch(ctx context.Context, build RequestFunc) ([]byte, error) {
	var body []byte
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := c.send(ctx, build)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if len(payload) == 0 {
			return fmt.Errorf("%s: %w", resp.Request.URL.Redacted(), ErrEmptyBody)
		}

		body = payload
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Open performs the request and hands back the live response for streaming.
// Only connection setup and status are retried; the caller closes the body.
func (c *Client) Open(ctx context.Context, build RequestFunc) (*http.Response, error) {
	var resp *http.Response
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		r, err := c.send(ctx, build)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, build RequestFunc) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, URL: req.URL.Redacted()}
	}

	return resp, nil
}
