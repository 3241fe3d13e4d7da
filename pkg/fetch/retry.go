package fetch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig bounds how server and network failures are retried.
type RetryConfig struct {
	// MaxAttempts counts the first request. Values below 1 mean 1.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait before jitter.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each retry.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// jitterFraction spreads waits over [1-f, 1+f] of the nominal delay.
const jitterFraction = 0.2

// jitterSource returns a value in [0, 1).
var jitterSource = rand.Float64

// delay returns the wait after the given failed attempt (1-based).
// jitter in [0, 1) maps onto the ±jitterFraction band.
func (c RetryConfig) delay(attempt int, jitter float64) time.Duration {
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	nominal := float64(c.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if c.MaxBackoff > 0 && nominal > float64(c.MaxBackoff) {
		nominal = float64(c.MaxBackoff)
	}
	return time.Duration(math.Round(nominal * (1 - jitterFraction + 2*jitterFraction*jitter)))
}

// retryWithBackoff runs fn until it succeeds, fails with a class that must
// not be retried, or attempts run out. Waits honour ctx.
func retryWithBackoff(ctx context.Context, config RetryConfig, logger zerolog.Logger, fn func() error) error {
	attempts := max(config.MaxAttempts, 1)

	var lastErr error
	var class ErrorClass

	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(class)).
					Int("attempt", attempt).
					Msg("Upstream request recovered after retry")
			}
			return nil
		}

		class = classOf(lastErr)
		if !shouldRetry(class) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		wait := config.delay(attempt, jitterSource())
		upstreamRetriesTotal.WithLabelValues(string(class)).Inc()
		upstreamRetryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		logger.Debug().
			Err(lastErr).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying upstream request")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context done while waiting to retry")
			return &UpstreamError{
				ErrorClass: ErrorClassNetwork,
				Err:        fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err()),
			}
		case <-timer.C:
		}
	}

	upstreamRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	logger.Warn().
		Err(lastErr).
		Str("error_class", string(class)).
		Int("max_attempts", attempts).
		Msg("Upstream retries exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}
