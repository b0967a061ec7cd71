// Package httpclient provides a shared HTTP client with retry logic for calls
// to external JSON APIs.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/luminamt5/executor/internal/pkg/retry"
)

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 4 << 10

// Config holds the configuration for the HTTP client.
type Config struct {
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	RateLimit      rate.Limit
	RateBurst      int
}

// DefaultConfig returns sensible defaults for the HTTP client.
func DefaultConfig() Config {
	return Config{
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		BackoffFactor:  2.0,
		RateLimit:      rate.Limit(20),
		RateBurst:      5,
	}
}

// Request describes a single JSON POST.
type Request struct {
	URL     string
	Headers map[string]string
	Body    any
}

// Response is a successful (< 400) response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client wraps an HTTP client with retry logic and rate limiting.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryConfig retry.Config
	logger      *slog.Logger
}

// NewClient creates a new HTTP client with the given configuration.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaults.RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaults.RateBurst
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		retryConfig: retry.Config{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			BackoffFactor:  cfg.BackoffFactor,
		},
		logger: logger,
	}
}

// RetryConfig exposes the effective retry settings.
func (c *Client) RetryConfig() retry.Config {
	return c.retryConfig
}

// PostJSON marshals req.Body and POSTs it, retrying server errors and
// transport failures. Client errors (4xx) are returned immediately wrapped in
// a NonRetryableError. onRetry may be nil.
func (c *Client) PostJSON(ctx context.Context, req Request, onRetry retry.OnRetryFunc) (*Response, error) {
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, WrapNonRetryable(fmt.Errorf("encoding request body: %w", err))
	}

	isRetryable := func(err error) bool {
		return !IsNonRetryable(err)
	}

	logRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("request failed, retrying",
			"url", req.URL,
			"attempt", attempt,
			"maxAttempts", c.retryConfig.MaxAttempts,
			"backoff", backoff,
			"error", err,
		)
		if onRetry != nil {
			onRetry(attempt, err, backoff)
		}
	}

	return retry.Do(ctx, c.retryConfig, isRetryable, logRetry, func() (*Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, WrapNonRetryable(fmt.Errorf("rate limiter: %w", err))
		}
		return c.doSinglePost(ctx, req, payload)
	})
}

func (c *Client) doSinglePost(ctx context.Context, reqCfg Request, payload []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqCfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, WrapNonRetryable(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range reqCfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(body)}
	}
	if resp.StatusCode >= 400 {
		return nil, WrapNonRetryable(&StatusError{StatusCode: resp.StatusCode, Body: truncate(body)})
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}

// StatusError is an HTTP response outside the success range.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	kind := "client error"
	if e.StatusCode >= 500 {
		kind = "server error"
	}
	if e.Body == "" {
		return fmt.Sprintf("%s (HTTP %d)", kind, e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", kind, e.StatusCode, e.Body)
}

// NonRetryableError wraps errors that should not be retried.
type NonRetryableError struct {
	err error
}

func (e *NonRetryableError) Error() string {
	return e.err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.err
}

// WrapNonRetryable wraps an error to indicate it should not be retried.
func WrapNonRetryable(err error) error {
	return &NonRetryableError{err: err}
}

// IsNonRetryable reports whether err (or anything it wraps) is a NonRetryableError.
func IsNonRetryable(err error) bool {
	var nonRetryable *NonRetryableError
	return errors.As(err, &nonRetryable)
}
