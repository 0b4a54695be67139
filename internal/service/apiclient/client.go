package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/blogpress/internal/apperrors"
	"github.com/nkiryanov/blogpress/internal/logger"
	"github.com/nkiryanov/blogpress/internal/metrics"
)

const (
	DefaultBaseURL  = "http://localhost:3000/api"
	RequestIDHeader = "X-Request-ID"

	defaultTimeout = 30 * time.Second

	// Error bodies are short, do not read more than that
	maxErrorBody = 64 << 10
)

// TokenSource gives access token to authorize requests
type TokenSource interface {
	Token(ctx context.Context) string
}

type Config struct {
	// Backend base URL, DefaultBaseURL if not set
	BaseURL string

	// Whole request timeout, 30s if not set
	Timeout time.Duration

	// Base transport, http.DefaultTransport if not set
	Transport http.RoundTripper

	// What to do with 401 responses
	// If not set the *ResponseError is returned as is
	Unauthorized UnauthorizedPolicy

	// Optional
	Metrics *metrics.Metrics
}

// Client is the only way to reach backend
// It authorizes requests and normalizes error responses
type Client struct {
	baseURL      string
	client       *http.Client
	tokens       TokenSource
	unauthorized UnauthorizedPolicy
	logger       logger.Logger
}

func New(cfg Config, tokens TokenSource, l logger.Logger) *Client {
	l = logger.OrNoOp(l)

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}

	transport := metricsTransport(loggingTransport(cfg.Transport, l), cfg.Metrics)

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		client:       &http.Client{Timeout: cfg.Timeout, Transport: transport},
		tokens:       tokens,
		unauthorized: cfg.Unauthorized,
		logger:       l,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Set policy after construction: policy usually depends on things built on top of the client
func (c *Client) SetUnauthorizedPolicy(p UnauthorizedPolicy) {
	c.unauthorized = p
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends request and decodes successful JSON response into out (if not nil)
// body is JSON encoded unless it is *FormData
func (c *Client) Do(ctx context.Context, method string, path string, body any, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request %s %s canceled: %w", method, path, err)
		}
		return fmt.Errorf("%w: %s %s: %w", apperrors.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return c.processSuccess(resp, out)
	}

	return c.processError(ctx, req, resp)
}

// True if backend answers anything at all
func (c *Client) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (c *Client) newRequest(ctx context.Context, method string, path string, body any) (*http.Request, error) {
	var (
		reader      io.Reader
		contentType string
	)

	switch b := body.(type) {
	case nil:
	case *FormData:
		r, err := b.reader()
		if err != nil {
			return nil, err
		}
		reader, contentType = r, b.ContentType()
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader, contentType = bytes.NewReader(data), "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		if token := c.tokens.Token(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return req, nil
}

func (c *Client) processSuccess(resp *http.Response, out any) error {
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	err := json.NewDecoder(resp.Body).Decode(out)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		c.logger.Warn("Failed to decode response", "error", err)
		return fmt.Errorf("failed to decode response: %w", err)
	}
}

func (c *Client) processError(ctx context.Context, req *http.Request, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := errorMessage(raw)
	if resp.StatusCode == http.StatusInternalServerError {
		// Only structured message is shown, generic one otherwise
		message, _ = jsonMessage(raw)
	}
	rerr := newResponseError(resp.StatusCode, message)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if c.unauthorized == nil {
			return rerr
		}
		return c.unauthorized.HandleUnauthorized(ctx, rerr)
	case http.StatusInternalServerError:
		c.logger.Error(
			"Server error",
			"method", req.Method,
			"path", req.URL.Path,
			"request_id", req.Header.Get(RequestIDHeader),
			"message", rerr.Message,
		)
		return rerr
	default:
		return rerr
	}
}

// Message from {"message": ...} or {"error": ...} body, raw body otherwise
func errorMessage(raw []byte) string {
	if msg, ok := jsonMessage(raw); ok {
		return msg
	}
	return strings.TrimSpace(string(raw))
}

func jsonMessage(raw []byte) (string, bool) {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}

	if err := json.Unmarshal(raw, &body); err != nil {
		return "", false
	}

	if body.Message != "" {
		return body.Message, true
	}
	return body.Error, true
}
