// Package client is the Go client for the echopipe gateway.
//
// It speaks the /v1 JSON API over HTTP and streams readiness events
// over WebSocket. Transport failures during connection establishment
// are retried with backoff; domain errors (would-block, busy,
// permission, gone) surface immediately and are never retried.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/echopipe/errors"
	"github.com/c360/echopipe/pipe"
	"github.com/c360/echopipe/pkg/retry"
)

// Status is the decoded GET /v1/status response.
type Status struct {
	Readable bool `json:"readable"`
	Writable bool `json:"writable"`
	Buffered int  `json:"buffered"`
	Space    int  `json:"space"`
	EOF      bool `json:"eof"`
}

// Client talks to one gateway.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
	retry   retry.Config
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryConfig sets the backoff policy for transport failures.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client for the gateway at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, options ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalid, "Client", "New", "parse base URL")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer:  websocket.DefaultDialer,
		retry:   retry.Quick(),
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// GetSize returns the current buffer capacity.
func (c *Client) GetSize(ctx context.Context) (int, error) {
	var body struct {
		Capacity int `json:"capacity"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/size", nil, &body); err != nil {
		return 0, err
	}
	return body.Capacity, nil
}

// SetSize resizes the buffer. Shrinking below the current fill level
// fails with ErrBusy.
func (c *Client) SetSize(ctx context.Context, capacity int) error {
	payload, _ := json.Marshal(map[string]int{"capacity": capacity})
	return c.doJSON(ctx, http.MethodPut, "/v1/size", payload, nil)
}

// Clear drops all buffered data.
func (c *Client) Clear(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/clear", nil, nil)
}

// Status reports level-triggered readiness. dir is "r", "w" or "rw";
// wait blocks server-side until at least one direction is ready.
func (c *Client) Status(ctx context.Context, dir string, wait bool) (Status, error) {
	path := fmt.Sprintf("/v1/status?dir=%s&wait=%t", url.QueryEscape(dir), wait)
	var st Status
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Read drains up to max bytes. It returns io.EOF at end-of-input and
// ErrWouldBlock when block is false and no data is buffered while
// writers remain.
func (c *Client) Read(ctx context.Context, max int, block bool) ([]byte, error) {
	path := fmt.Sprintf("/v1/read?max=%d&block=%t", max, block)
	resp, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, io.EOF
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	default:
		return nil, responseError(resp)
	}
}

// Write appends data. The returned count may be short when block is
// false and the buffer fills; callers compare it to len(data).
func (c *Client) Write(ctx context.Context, data []byte, block bool) (int, error) {
	path := fmt.Sprintf("/v1/write?block=%t", block)
	var body struct {
		Written int `json:"written"`
	}
	if err := c.doJSON(ctx, http.MethodPost, path, data, &body); err != nil {
		return 0, err
	}
	return body.Written, nil
}

// OpenWriter opens a persistent writer session and returns its token.
// While any session is open, readers block at an empty buffer instead
// of observing end-of-input.
func (c *Client) OpenWriter(ctx context.Context) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/writer", nil, &body); err != nil {
		return "", err
	}
	return body.Token, nil
}

// CloseWriter ends a writer session.
func (c *Client) CloseWriter(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/writer?token="+url.QueryEscape(token), nil, nil)
}

// Events opens a WebSocket event stream for one direction and returns
// a channel of decoded events. The channel closes when the stream ends
// or ctx is cancelled.
func (c *Client) Events(ctx context.Context, dir pipe.Direction) (<-chan pipe.Event, error) {
	wsURL, err := c.websocketURL("/v1/events?dir=" + url.QueryEscape(string(dir)))
	if err != nil {
		return nil, err
	}

	conn, err := retry.DoWithResult(ctx, c.retry, func() (*websocket.Conn, error) {
		conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
		if resp != nil && resp.Body != nil {
			defer resp.Body.Close()
		}
		if err != nil {
			// A handshake rejection carries the gateway's verdict; do
			// not retry it.
			if resp != nil {
				return nil, retry.NonRetryable(responseError(resp))
			}
			return nil, fmt.Errorf("%w: %v", errors.ErrNoConnection, err)
		}
		return conn, nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Events", "dial event stream")
	}

	events := make(chan pipe.Event)
	go func() {
		defer close(events)
		defer conn.Close()

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev pipe.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				c.logger.Warn("event decode failed", "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// doJSON performs a request and decodes a JSON response into out when
// out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, payload []byte, out any) error {
	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode body: %v", errors.ErrBadResponse, err)
	}
	return nil
}

// do performs one request, retrying transport failures with backoff.
// Any received HTTP response, success or error, ends the retry loop:
// the gateway has spoken.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	return retry.DoWithResult(ctx, c.retry, func() (*http.Response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, retry.NonRetryable(errors.WrapInvalid(err, "Client", "do", "build request"))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, retry.NonRetryable(errors.ErrInterrupted)
			}
			return nil, fmt.Errorf("%w: %v", errors.ErrNoConnection, err)
		}
		return resp, nil
	})
}

// websocketURL converts the base URL to its ws/wss equivalent.
func (c *Client) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", errors.WrapInvalid(err, "Client", "websocketURL", "parse URL")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// responseError converts an HTTP error response back to the domain
// error the gateway mapped it from.
func responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if resp.Body != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1024)).Decode(&body); err == nil && body.Error != "" {
			msg = body.Error
		}
	}

	switch resp.StatusCode {
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", errors.ErrWouldBlock, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", errors.ErrBusy, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", errors.ErrPermission, msg)
	case http.StatusGone:
		return fmt.Errorf("%w: %s", errors.ErrGone, msg)
	case http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", errors.ErrInterrupted, msg)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", errors.ErrInvalid, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", errors.ErrBadResponse, resp.StatusCode, msg)
	}
}
