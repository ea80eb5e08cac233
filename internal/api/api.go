// Package api is a small form-posting HTTP client for venue REST gateways.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradedesk/internal/logger"
)

// Client represents an HTTP client with common configuration and utilities
type Client struct {
	httpClient *http.Client
	baseURL    string
	useLogging bool
}

func (c *Client) logDebug(ctx context.Context, msg string, args ...any) {
	if c.useLogging {
		logger.Debug(ctx, msg, args...)
	}
}

func (c *Client) logWarn(ctx context.Context, msg string, args ...any) {
	if c.useLogging {
		logger.Warn(ctx, msg, args...)
	}
}

func (c *Client) logError(ctx context.Context, msg string, args ...any) {
	if c.useLogging {
		logger.Error(ctx, msg, args...)
	}
}

// ClientOption configures the API client
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithBaseURL sets the base URL for all requests
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient swaps the underlying transport, mostly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogging enables logging for the API client
func WithLogging(enabled bool) ClientOption {
	return func(c *Client) {
		c.useLogging = enabled
	}
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Request is one call against the gateway. Path is joined to the base URL.
type Request struct {
	Method string
	Path   string
	Form   url.Values
	ctx    context.Context
}

type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// StatusError is returned for 4xx and 5xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func NewRequest(method, path string) *Request {
	return &Request{
		Method: method,
		Path:   path,
		ctx:    context.Background(),
	}
}

// PostForm builds a form-urlencoded POST.
func PostForm(ctx context.Context, path string, form url.Values) *Request {
	return NewRequest(http.MethodPost, path).WithContext(ctx).WithForm(form)
}

func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

func (r *Request) WithForm(form url.Values) *Request {
	r.Form = form
	return r
}

// Do executes the request. A 4xx or 5xx reply returns both the response
// and a *StatusError so callers can still read the body.
func (c *Client) Do(req *Request) (*Response, error) {
	url := c.baseURL + req.Path

	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}
	httpReq, err := http.NewRequestWithContext(req.ctx, req.Method, url, body)
	if err != nil {
		c.logError(req.ctx, "Failed to create HTTP request", "error", err)
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.logDebug(req.ctx, "HTTP Request", "method", req.Method, "url", url)

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logError(req.ctx, "HTTP request failed", "method", req.Method, "url", url, "error", err)
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.logError(req.ctx, "Failed to read response body", "error", err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logDebug(req.ctx, "HTTP Response",
		"method", req.Method,
		"url", url,
		"status", httpResp.StatusCode,
		"duration", time.Since(startTime),
		"bodySize", len(respBody))

	resp := &Response{StatusCode: httpResp.StatusCode, Body: respBody, Headers: httpResp.Header}
	if httpResp.StatusCode >= 400 {
		c.logWarn(req.ctx, "HTTP error response", "method", req.Method, "url", url, "status", httpResp.StatusCode)
		return resp, &StatusError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}
	return resp, nil
}

// ParseJSON parses the response body as JSON into the given struct
func (r *Response) ParseJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

func (r *Response) String() string {
	return string(r.Body)
}

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	// Retryable decides whether err is worth another attempt. Nil uses
	// Transient.
	Retryable func(err error) bool
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Retryable:   Transient,
	}
}

// Transient reports network failures and 5xx replies. A 4xx will not
// change on retry.
func Transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return err != nil
}

// DoWithRetry executes a request with exponential backoff, stopping early
// when the request context is done. The last response is returned with
// the error so a 5xx body can still be inspected.
func (c *Client) DoWithRetry(req *Request, config *RetryConfig) (*Response, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	retryable := config.Retryable
	if retryable == nil {
		retryable = Transient
	}

	var (
		resp *Response
		err  error
	)
	waitTime := config.InitialWait

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		resp, err = c.Do(req)
		if err == nil || !retryable(err) {
			return resp, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		c.logWarn(req.ctx, "Request failed, retrying", "attempt", attempt, "error", err, "waitTime", waitTime)
		select {
		case <-req.ctx.Done():
			return nil, req.ctx.Err()
		case <-time.After(waitTime):
		}
		waitTime *= 2
		if waitTime > config.MaxWait {
			waitTime = config.MaxWait
		}
	}

	c.logError(req.ctx, "All retry attempts failed", "maxAttempts", config.MaxAttempts, "error", err)
	return resp, fmt.Errorf("all %d retry attempts failed: %w", config.MaxAttempts, err)
}
