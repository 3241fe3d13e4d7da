// Package ratelimit tracks upstream rate limiting and gates outgoing requests.
// When the upstream answers 429 Too Many Requests, a cooldown honouring the
// Retry-After header is stored in Redis so every gateway instance backs off
// until it has passed.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RedisKeyCooldownUntil holds the cooldown end as Unix milliseconds.
const RedisKeyCooldownUntil = "gateway:upstream:cooldown_until"

// Cooldown bounds.
const (
	// DefaultCooldown applies when a 429 carries no usable Retry-After.
	DefaultCooldown = 60 * time.Second

	// MaxCooldown caps the Retry-After honoured from the upstream.
	MaxCooldown = 15 * time.Minute
)

// CooldownState is the shared upstream cooldown.
type CooldownState struct {
	// CoolingDown is true while requests must not be sent upstream.
	CoolingDown bool `json:"cooling_down"`

	// Until is when the cooldown ends. Zero when not cooling down.
	Until time.Time `json:"until"`
}

// Remaining returns the time until the cooldown ends.
// Returns 0 if there is no cooldown or it has already passed.
func (s *CooldownState) Remaining() time.Duration {
	if !s.CoolingDown {
		return 0
	}
	d := time.Until(s.Until)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter reads a Retry-After value in either delay-seconds or
// HTTP-date form. The boolean is false when the value is missing or invalid.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// cooldownFor converts a Retry-After header into a bounded cooldown.
func cooldownFor(headers http.Header, now time.Time) time.Duration {
	d, ok := ParseRetryAfter(headers.Get("Retry-After"), now)
	if !ok || d == 0 {
		return DefaultCooldown
	}
	if d > MaxCooldown {
		return MaxCooldown
	}
	return d
}
