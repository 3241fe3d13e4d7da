// Package fetch provides the upstream HTTP client with retries, response
// decoding, cooldown gating and error classification.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxBodyBytes bounds a decoded upstream body.
const DefaultMaxBodyBytes = 64 << 20

// Limiter gates upstream requests and learns from responses.
// *ratelimit.Tracker implements it.
type Limiter interface {
	ShouldAllowRequest(ctx context.Context) (bool, error)
	UpdateFromResponse(ctx context.Context, statusCode int, headers http.Header) error
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent upstream
	UserAgent string

	// Timeout bounds one attempt, including reading the body
	Timeout time.Duration

	// Retry policy for server and network errors
	Retry RetryConfig

	// MaxBodyBytes bounds the decoded response body
	MaxBodyBytes int64

	// Limiter is optional. Nil disables cooldown gating.
	Limiter Limiter
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:    userAgent,
		Timeout:      10 * time.Second,
		Retry:        DefaultRetryConfig(),
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Client performs GET requests against the upstream.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %v)", cfg.Timeout)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger.With().Str("component", "fetch").Logger(),
	}, nil
}

// Get requests rawURL with params added to its query and returns the
// decoded body of a 2xx response. Failures are *UpstreamError values,
// possibly wrapped in ErrRetryExhausted.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
	}
	endpoint := u.Path

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check upstream cooldown
	if c.config.Limiter != nil {
		allowed, err := c.config.Limiter.ShouldAllowRequest(ctx)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Msg("Cooldown check failed, sending request anyway")
		case !allowed:
			upstreamRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			upstreamErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &UpstreamError{
				StatusCode: http.StatusTooManyRequests,
				ErrorClass: ErrorClassRateLimit,
				Err:        ErrCooldownActive,
			}
		}
	}

	// Step 2: Execute with retry
	c.logger.Debug().Str("url", u.String()).Msg("Executing upstream request")

	var body []byte
	err = retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		var attemptErr error
		body, attemptErr = c.do(ctx, u.String(), endpoint)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, target, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Upstream request failed")
		return nil, &UpstreamError{ErrorClass: ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	// Update cooldown from the response
	if c.config.Limiter != nil {
		if err := c.config.Limiter.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update cooldown from response")
		}
	}

	data, err := readBody(resp, c.config.MaxBodyBytes)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(endpoint, "read_error").Inc()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Err: err}
	}

	upstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errClass := classifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Upstream request error")

		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Body:       snippet(data),
		}
	}

	return data, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}
