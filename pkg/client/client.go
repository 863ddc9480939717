// Package client is the HTTP adapter for the directory backend. It injects
// bearer credentials, decodes the backend's response envelope and turns
// every failure into an *apierr.Error. A 401 on an authenticated call is
// published on the event bus as events.SessionInvalidated; the adapter
// never clears session state or navigates on its own.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/portal-pesantren/portal-sub001/pkg/apierr"
	"github.com/portal-pesantren/portal-sub001/pkg/events"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

const (
	// DefaultBaseURL is the versioned API root used when none is configured.
	DefaultBaseURL = "http://localhost:8000/api/v1"

	// DefaultTimeout is the global per-request timeout.
	DefaultTimeout = 10 * time.Second

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10

	headerRequestID = "X-Request-ID"
)

// ErrNoBaseURL is returned when the configured base URL cannot be parsed.
var ErrNoBaseURL = errors.New("client: base URL must be absolute")

// TokenSource supplies the current access token, "" when signed out.
type TokenSource interface {
	AccessToken() string
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func() string

// AccessToken implements TokenSource.
func (f TokenSourceFunc) AccessToken() string { return f() }

// Config configures the client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its timeout is left
// untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithEventBus sets the bus that receives session-invalidated events.
func WithEventBus(bus *events.Bus) Option {
	return func(c *Client) { c.bus = bus }
}

// Client talks to the directory backend.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	tokens    TokenSource
	bus       *events.Bus
	userAgent string
}

// New creates a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, ErrNoBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
		userAgent: cfg.UserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// request describes one backend call.
type request struct {
	method string
	path   string
	query  url.Values
	body   any

	// credentialCheck marks endpoints where a 401 means "wrong credentials"
	// rather than "session expired" (login, register).
	credentialCheck bool
}

// envelope is the backend's standard response wrapper.
type envelope struct {
	Success    *bool                 `json:"success,omitempty"`
	Message    string                `json:"message,omitempty"`
	Data       json.RawMessage       `json:"data,omitempty"`
	Errors     json.RawMessage       `json:"errors,omitempty"`
	Pagination *pesantren.Pagination `json:"pagination,omitempty"`
}

// do executes req and decodes the payload into out (which may be nil).
func (c *Client) do(ctx context.Context, req request, out any) (*envelope, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", req.method, req.path, ctxErr)
		}
		slog.Debug("client: request failed",
			"method", req.method, "path", req.path, "error", err)
		return nil, apierr.Network(err)
	}
	defer func() { _ = resp.Body.Close() }()

	slog.Debug("client: request",
		"method", req.method,
		"path", req.path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", httpReq.Header.Get(headerRequestID))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := c.decodeError(resp)
		if resp.StatusCode == http.StatusUnauthorized {
			c.handleUnauthorized(httpReq, req)
		}
		return nil, apiErr
	}

	return decodeSuccess(resp, out)
}

func (c *Client) newRequest(ctx context.Context, req request) (*http.Request, error) {
	unescaped, err := url.PathUnescape(req.path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", req.path, err)
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + unescaped
	u.RawPath = c.baseURL.EscapedPath() + req.path
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(headerRequestID, uuid.NewString())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return httpReq, nil
}

// handleUnauthorized publishes a session invalidation when the rejected
// request carried credentials.
func (c *Client) handleUnauthorized(httpReq *http.Request, req request) {
	if c.bus == nil || req.credentialCheck {
		return
	}
	token, ok := strings.CutPrefix(httpReq.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return
	}
	digest := events.TokenDigest(token)
	slog.Info("client: credentials rejected, invalidating session", "path", req.path, "token", digest)
	c.bus.Publish(events.Event{
		Type:        events.SessionInvalidated,
		Reason:      "http_401",
		Path:        req.path,
		TokenDigest: digest,
	})
}

func decodeSuccess(resp *http.Response, out any) (*envelope, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Network(fmt.Errorf("reading response: %w", err))
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &envelope{}, nil
	}

	var env envelope
	if data[0] == '{' {
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, apierr.New(apierr.KindServer, fmt.Errorf("decoding response: %w", err))
		}
	}

	payload := env.Data
	if payload == nil && !looksLikeEnvelope(data) {
		// Bare payload without the wrapper.
		payload = data
	}
	if out != nil && len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, out); err != nil {
			return nil, apierr.New(apierr.KindServer, fmt.Errorf("decoding payload: %w", err))
		}
	}
	return &env, nil
}

func looksLikeEnvelope(data []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, hasSuccess := fields["success"]
	_, hasData := fields["data"]
	_, hasMessage := fields["message"]
	return hasSuccess || hasData || (hasMessage && len(fields) == 1)
}

func (*Client) decodeError(resp *http.Response) *apierr.Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var env envelope
	var detail string
	var fields map[string][]string
	if err := json.Unmarshal(data, &env); err == nil {
		detail = env.Message
		fields = decodeFieldErrors(env.Errors)
	}
	if detail == "" {
		var alt struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(data, &alt); err == nil {
			detail = firstNonEmpty(alt.Error, alt.Detail)
		}
	}
	return apierr.FromStatus(resp.StatusCode, detail, fields)
}

// decodeFieldErrors accepts both {"field": ["msg"]} and {"field": "msg"}.
func decodeFieldErrors(raw json.RawMessage) map[string][]string {
	if len(raw) == 0 {
		return nil
	}
	var many map[string][]string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one map[string]string
	if err := json.Unmarshal(raw, &one); err == nil {
		fields := make(map[string][]string, len(one))
		for k, v := range one {
			fields[k] = []string{v}
		}
		return fields
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
