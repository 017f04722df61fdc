package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/storefront/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/metrics"
	"github.com/sony/gobreaker/v2"
)

const (
	createOrderPath   = "orders/create-from-cart"
	payOrderPath      = "orders/pay"
	paymentReturnPath = "webpay/return"

	OperationCreateOrder   = "create_order"
	OperationPay           = "initiate_payment"
	OperationPaymentReturn = "payment_return"

	responseBodyLimit int64 = 1 << 20
	messageReadLimit  int64 = 1024
)

var errBaseURLRequired = errors.New("backend base url is required")

// Client talks to the remote order backend over JSON/HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker[*rawResponse]
	metrics    *metrics.CheckoutMetrics
	now        func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBreaker guards every call with a circuit breaker built from cfg.
func WithBreaker(cfg config.BreakerConfig) Option {
	return func(c *Client) {
		c.breaker = newBreaker(cfg)
	}
}

// WithMetrics records per-operation call durations.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds a backend client rooted at cfg.BaseURL.
func NewClient(cfg config.BackendConfig, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.breaker == nil {
		client.breaker = newBreaker(config.BreakerConfig{})
	}
	return client, nil
}

func newBreaker(cfg config.BreakerConfig) *gobreaker.CircuitBreaker[*rawResponse] {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        "order-backend",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// 4xx answers mean the backend is up; only transport errors and 5xx trip the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return errors.Is(err, context.Canceled)
		},
	})
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: backend status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// BackendMessage extracts the backend-provided message from err, if any.
func BackendMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

type envelope struct {
	OK      *bool           `json:"ok"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

type rawResponse struct {
	statusCode int
	body       []byte
}

type call struct {
	operation string
	method    string
	path      string
	query     url.Values
	bearer    string
	headers   map[string]string
	body      any
}

func (c *Client) do(ctx context.Context, req call) (*envelope, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "backend client not configured")
	}

	start := c.now()
	resp, err := c.breaker.Execute(func() (*rawResponse, error) {
		return c.roundTrip(ctx, req)
	})
	c.metrics.ObserveBackend(req.operation, err, c.now().Sub(start))
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order backend unavailable")
		}
		return nil, err
	}

	var env envelope
	if len(bytes.TrimSpace(resp.body)) == 0 {
		return &env, nil
	}
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedResponse, err, "decode backend response").
			WithDetails(map[string]any{"step": req.operation})
	}
	return &env, nil
}

func (c *Client) roundTrip(ctx context.Context, req call) (*rawResponse, error) {
	var payload io.Reader
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", req.operation, err)
		}
		payload = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.buildURL(req.path, req.query), payload)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.operation, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute %s request: %w", req.operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, messageReadLimit))
		return nil, &APIError{
			Operation:  req.operation,
			StatusCode: resp.StatusCode,
			Message:    extractMessage(msg),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.operation, err)
	}
	return &rawResponse{statusCode: resp.StatusCode, body: body}, nil
}

// extractMessage pulls "message" (or "error.message") out of an error body,
// falling back to the trimmed raw text.
func extractMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		var nested struct {
			Message string `json:"message"`
		}
		if len(env.Error) > 0 && json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if len(env.Error) > 0 && json.Unmarshal(env.Error, &plain) == nil {
			return plain
		}
		return ""
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}
