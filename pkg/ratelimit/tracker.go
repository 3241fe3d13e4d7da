package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream cooldown tracking.
var (
	upstreamCooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_upstream_cooldown_seconds",
		Help: "Length of the most recent upstream cooldown in seconds",
	})

	upstreamCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_upstream_cooldowns_total",
		Help: "Total number of 429 responses that started an upstream cooldown",
	})

	upstreamBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_upstream_rate_limit_blocks_total",
		Help: "Total number of upstream requests blocked by an active cooldown",
	})
)

// Tracker records upstream cooldowns in Redis and gates requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new cooldown tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// GetState retrieves the current cooldown from Redis.
// Returns a state without cooldown if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*CooldownState, error) {
	untilMs, err := t.redis.Get(ctx, RedisKeyCooldownUntil).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &CooldownState{}, nil
		}
		return nil, fmt.Errorf("get cooldown: %w", err)
	}

	until := time.UnixMilli(untilMs)
	if !until.After(t.now()) {
		return &CooldownState{}, nil
	}
	return &CooldownState{CoolingDown: true, Until: until}, nil
}

// UpdateFromResponse starts a cooldown when the upstream answered 429.
// Other status codes leave the state untouched.
func (t *Tracker) UpdateFromResponse(ctx context.Context, statusCode int, headers http.Header) error {
	if statusCode != http.StatusTooManyRequests {
		return nil
	}

	now := t.now()
	cooldown := cooldownFor(headers, now)
	until := now.Add(cooldown)

	// Step 1: Store with native expiry so the key disappears on its own
	if err := t.redis.Set(ctx, RedisKeyCooldownUntil, until.UnixMilli(), cooldown).Err(); err != nil {
		return fmt.Errorf("store cooldown in redis: %w", err)
	}

	// Step 2: Update Prometheus metrics
	upstreamCooldownsTotal.Inc()
	upstreamCooldownSeconds.Set(cooldown.Seconds())

	t.logger.Warn().
		Dur("cooldown", cooldown).
		Time("until", until).
		Str("retry_after", headers.Get("Retry-After")).
		Msg("Upstream rate limit hit - pausing requests")

	return nil
}

// ShouldAllowRequest checks if a request may be sent upstream.
// Returns false while a cooldown is active.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get cooldown state: %w", err)
	}

	if state.CoolingDown {
		t.logger.Debug().
			Dur("remaining", state.Remaining()).
			Msg("Upstream cooldown active - blocking request")

		upstreamBlocksTotal.Inc()
		return false, nil
	}

	return true, nil
}
