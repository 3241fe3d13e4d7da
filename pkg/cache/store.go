package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheUnavailable wraps transport errors from the backing store.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a key/value store with TTL.
type Store interface {
	// Get returns the stored bytes and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// FlushAll removes every entry of the store.
	FlushAll(ctx context.Context) error
}

// RedisStore implements Store on a Redis database.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a store on redisClient.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
	}
}

// Get retrieves the raw value of key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, false, fmt.Errorf("%w: redis get: %v", ErrCacheUnavailable, err)
	}
	return data, true, nil
}

// Set stores value with native Redis expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("%w: redis set: %v", ErrCacheUnavailable, err)
	}
	CacheEntryBytes.Observe(float64(len(value)))
	return nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("%w: redis del: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// FlushAll empties the configured Redis database (FLUSHDB), leaving other
// databases on the same server untouched.
func (s *RedisStore) FlushAll(ctx context.Context) error {
	if err := s.redis.FlushDB(ctx).Err(); err != nil {
		CacheErrors.WithLabelValues("flush").Inc()
		return fmt.Errorf("%w: redis flushdb: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Ping checks the connection to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", ErrCacheUnavailable, err)
	}
	return nil
}
