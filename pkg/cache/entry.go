package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the envelope stored for every cached value. Keeping the value
// inside an envelope lets a stored null, false or 0 read back as a hit.
type Entry struct {
	// Value is the JSON-serialized value.
	Value json.RawMessage `json:"value"`

	// CachedAt is when the value was written.
	CachedAt time.Time `json:"cached_at"`

	// ExpiresAt is the absolute expiry, nil when the entry never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewEntry serializes value into an entry expiring after ttl.
// A ttl of zero or less means no expiry.
func NewEntry(value any, ttl time.Duration) (*Entry, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal cache value: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		Value:    data,
		CachedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		entry.ExpiresAt = &expires
	}
	return entry, nil
}

// IsExpired returns true if the entry has an expiry in the past.
func (e *Entry) IsExpired() bool {
	return e.ExpiresAt != nil && time.Now().After(*e.ExpiresAt)
}

// TTL returns the time until expiration.
// Returns 0 for entries without expiry and for expired entries.
func (e *Entry) TTL() time.Duration {
	if e.ExpiresAt == nil {
		return 0
	}
	ttl := time.Until(*e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Decode unmarshals the stored value into v.
func (e *Entry) Decode(v any) error {
	if len(e.Value) == 0 {
		return fmt.Errorf("%w: empty value", ErrInvalidEntry)
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}
