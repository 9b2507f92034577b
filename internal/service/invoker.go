package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"ryuzaki-bot/internal/monitor"
)

// DefaultHTTPTimeout bounds every remote call when no timeout is configured
const DefaultHTTPTimeout = 60 * time.Second

// Request describes one call to a remote endpoint
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   url.Values
	JSON    any // Encoded as the request body when non-nil
}

// Response is the raw outcome of a remote call
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the call succeeded at the HTTP level
func (r *Response) OK() bool {
	return r != nil && r.StatusCode < http.StatusBadRequest
}

// Truthy reports a usable raw-text response: successful status and a non-empty body
func (r *Response) Truthy() bool {
	return r.OK() && len(r.Body) > 0
}

// Text returns the body as a string
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// DecodeJSON unmarshals the body into v
func (r *Response) DecodeJSON(v any) error {
	if r == nil {
		return fmt.Errorf("nil response")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", r.StatusCode, err)
	}
	return nil
}

// Invoker performs remote endpoint calls. Non-2xx statuses are returned, not raised.
type Invoker interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPInvoker implements Invoker over net/http
type HTTPInvoker struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPInvoker creates an invoker with the given client timeout
func NewHTTPInvoker(timeout time.Duration, logger *slog.Logger) *HTTPInvoker {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPInvoker{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Do sends the request and reads the whole response body
func (h *HTTPInvoker) Do(ctx context.Context, req *Request) (*Response, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}
	if len(req.Query) > 0 {
		query := target.Query()
		for key, values := range req.Query {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		target.RawQuery = query.Encode()
	}

	var body io.Reader
	if req.JSON != nil {
		payload, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if req.JSON != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	logger := monitor.LoggerFromContext(ctx, h.logger)
	start := time.Now()

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", target.Host, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	logger.Debug("Remote call completed",
		"method", req.Method,
		"host", target.Host,
		"path", target.Path,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start))

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
