package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Aside runs the cache-aside pattern over a Store. Store failures never
// reach the caller: a failed read is a miss, a failed write is logged.
type Aside struct {
	store  Store
	logger zerolog.Logger
}

// NewAside creates an orchestrator on store.
func NewAside(store Store, logger zerolog.Logger) *Aside {
	if store == nil {
		panic("cache store cannot be nil")
	}
	return &Aside{
		store:  store,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Store returns the underlying store.
func (a *Aside) Store() Store {
	return a.store
}

// Lookup returns the cached value for key. The boolean is false on a miss,
// on a store failure and on an undecodable entry.
func Lookup[T any](ctx context.Context, a *Aside, key Key) (T, bool) {
	var zero T
	k := key.String()

	data, found, err := a.store.Get(ctx, k)
	if err != nil {
		a.logger.Warn().Err(err).Str("key", k).Msg("Cache read failed, treating as miss")
		CacheMisses.WithLabelValues(key.Producer).Inc()
		return zero, false
	}
	if !found {
		CacheMisses.WithLabelValues(key.Producer).Inc()
		return zero, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		a.evict(ctx, k, err)
		CacheMisses.WithLabelValues(key.Producer).Inc()
		return zero, false
	}
	if entry.IsExpired() {
		a.evict(ctx, k, nil)
		CacheMisses.WithLabelValues(key.Producer).Inc()
		return zero, false
	}

	var v T
	if err := entry.Decode(&v); err != nil {
		a.evict(ctx, k, err)
		CacheMisses.WithLabelValues(key.Producer).Inc()
		return zero, false
	}

	CacheHits.WithLabelValues(key.Producer).Inc()
	return v, true
}

// GetOrSet returns the cached value for key, or computes it, stores it
// with ttl and returns it. A compute error is returned as-is and nothing
// is cached. A ttl of zero stores without expiry.
func GetOrSet[T any](ctx context.Context, a *Aside, key Key, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if v, ok := Lookup[T](ctx, a, key); ok {
		a.logger.Debug().Str("key", key.String()).Msg("Cache hit")
		return v, nil
	}

	v, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	a.Put(ctx, key, v, ttl)
	return v, nil
}

// Put stores value under key. Failures are logged and dropped.
func (a *Aside) Put(ctx context.Context, key Key, value any, ttl time.Duration) {
	k := key.String()

	entry, err := NewEntry(value, ttl)
	if err != nil {
		CacheErrors.WithLabelValues("encode").Inc()
		a.logger.Error().Err(err).Str("key", k).Msg("Failed to encode cache entry")
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("encode").Inc()
		a.logger.Error().Err(err).Str("key", k).Msg("Failed to encode cache entry")
		return
	}

	if err := a.store.Set(ctx, k, data, ttl); err != nil {
		a.logger.Warn().Err(err).Str("key", k).Msg("Cache write failed")
		return
	}
	a.logger.Debug().Str("key", k).Dur("ttl", ttl).Msg("Cached value")
}

// Invalidate removes key.
func (a *Aside) Invalidate(ctx context.Context, key Key) error {
	return a.store.Delete(ctx, key.String())
}

// Flush removes every entry.
func (a *Aside) Flush(ctx context.Context) error {
	if err := a.store.FlushAll(ctx); err != nil {
		return err
	}
	a.logger.Info().Msg("Cache flushed")
	return nil
}

func (a *Aside) evict(ctx context.Context, key string, cause error) {
	if cause != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		a.logger.Warn().Err(cause).Str("key", key).Msg("Dropping undecodable cache entry")
	}
	if err := a.store.Delete(ctx, key); err != nil {
		a.logger.Debug().Err(err).Str("key", key).Msg("Failed to delete cache entry")
	}
}
