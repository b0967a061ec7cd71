// Package lifecycle reports command, order, fill and position lifecycle
// events to the platform API.
//
// Every POST carries an X-Idempotency-Key header of the form
// "<commandKey>:<stage>", so a retried report is deduplicated downstream.
// Server errors and transport failures are retried with exponential backoff;
// client errors fail immediately.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/pkg/httpclient"
	"github.com/luminamt5/executor/internal/pkg/retry"
	"github.com/luminamt5/executor/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.LifecycleReporter
var _ outbound.LifecycleReporter = (*Client)(nil)

// Path is the lifecycle endpoint relative to the API base.
const Path = "/v1/executor/lifecycle"

// Config holds configuration for the lifecycle client.
type Config struct {
	// APIBase is the platform API root, e.g. "http://localhost:3000".
	APIBase string

	// APIKey is sent as X-API-Key when set.
	APIKey string

	// BearerToken is sent as "Authorization: Bearer <token>" when set.
	BearerToken string

	// MaxAttempts is the total number of POSTs per report.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; it doubles after each retry.
	InitialBackoff time.Duration

	// Timeout bounds a single POST.
	Timeout time.Duration

	// RateLimit caps requests per second to the API.
	RateLimit rate.Limit

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		APIBase:        "http://localhost:3000",
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		Timeout:        5 * time.Second,
		RateLimit:      rate.Limit(20),
		Logger:         slog.Default(),
	}
}

// Client posts lifecycle events to the platform API.
type Client struct {
	http     *httpclient.Client
	endpoint string
	headers  map[string]string
	config   Config
	logger   *slog.Logger

	// onRetry observes each retry; used by tests.
	onRetry retry.OnRetryFunc
}

// NewClient creates a lifecycle client.
func NewClient(config Config) (*Client, error) {
	defaults := ConfigDefaults()
	if config.APIBase == "" {
		config.APIBase = defaults.APIBase
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	base := strings.TrimRight(config.APIBase, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("api base must be an http(s) URL, got %q", config.APIBase)
	}

	headers := make(map[string]string, 2)
	if config.APIKey != "" {
		headers["X-API-Key"] = config.APIKey
	}
	if config.BearerToken != "" {
		headers["Authorization"] = "Bearer " + config.BearerToken
	}

	logger := config.Logger.With("component", "lifecycle-client")

	return &Client{
		http: httpclient.NewClient(httpclient.Config{
			Timeout:        config.Timeout,
			MaxAttempts:    config.MaxAttempts,
			InitialBackoff: config.InitialBackoff,
			BackoffFactor:  2.0,
			RateLimit:      config.RateLimit,
		}, logger),
		endpoint: base + Path,
		headers:  headers,
		config:   config,
		logger:   logger,
	}, nil
}

// Endpoint returns the URL events are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Report posts event under idempotencyKey. Any failure, whether a rejected
// request or exhausted retries, is returned as *entity.LifecycleReportError.
func (c *Client) Report(ctx context.Context, event entity.LifecycleEvent, idempotencyKey string) error {
	if event.Empty() {
		return &entity.LifecycleReportError{
			IdempotencyKey: idempotencyKey,
			Err:            errors.New("lifecycle event has no sections"),
		}
	}

	headers := make(map[string]string, len(c.headers)+1)
	for k, v := range c.headers {
		headers[k] = v
	}
	headers["X-Idempotency-Key"] = idempotencyKey

	resp, err := c.http.PostJSON(ctx, httpclient.Request{
		URL:     c.endpoint,
		Headers: headers,
		Body:    event,
	}, c.onRetry)
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Last
		}
		c.logger.Error("lifecycle report failed",
			"idempotencyKey", idempotencyKey,
			"terminal", httpclient.IsNonRetryable(err),
			"error", err,
		)
		return &entity.LifecycleReportError{IdempotencyKey: idempotencyKey, Err: err}
	}

	c.logger.Debug("lifecycle reported", "idempotencyKey", idempotencyKey, "status", resp.StatusCode)
	return nil
}
