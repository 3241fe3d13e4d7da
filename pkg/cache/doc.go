// Package cache provides read-through caching on a Redis backend.
//
// The package has two layers:
//
//   - Store: a thin key/value adapter with TTL (RedisStore)
//   - Aside: the cache-aside orchestrator that wraps values in an Entry
//     envelope and computes them on a miss
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	aside := cache.NewAside(cache.NewRedisStore(redisClient), logger)
//
//	key := cache.NewKey("skinport_items",
//		"app_id", "730",
//		"currency", "EUR",
//		"tradable", "0",
//	)
//
//	items, err := cache.GetOrSet(ctx, aside, key, 5*time.Minute,
//		func(ctx context.Context) ([]Item, error) {
//			return fetchItems(ctx)
//		})
//
// # Failure Semantics
//
// The cache is an optimisation. When Redis is unreachable, reads count as
// misses and writes are logged and dropped, so callers see the computed
// value instead of an error. A compute error is returned unchanged and is
// never cached.
//
// Values are stored inside an envelope, so a cached nil, false, 0 or empty
// list is a hit like any other value.
//
// # Metrics
//
//   - gateway_cache_hits_total{producer} - Cache hits
//   - gateway_cache_misses_total{producer} - Cache misses
//   - gateway_cache_entry_bytes - Written entry sizes
//   - gateway_cache_errors_total{operation} - Cache operation errors
package cache
