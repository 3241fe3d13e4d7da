package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails every operation.
type failingStore struct {
	sets atomic.Int32
}

var errStoreDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func (s *failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errStoreDown
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.sets.Add(1)
	return errStoreDown
}

func (s *failingStore) Delete(ctx context.Context, key string) error { return errStoreDown }
func (s *failingStore) FlushAll(ctx context.Context) error           { return errStoreDown }

func newTestAside(t *testing.T) (*Aside, *RedisStore) {
	t.Helper()
	_, client := setupTestRedis(t)
	store := NewRedisStore(client)
	return NewAside(store, zerolog.Nop()), store
}

func TestGetOrSet_ComputesOnceThenHits(t *testing.T) {
	aside, _ := newTestAside(t)
	ctx := context.Background()
	key := NewKey("test", "id", "1")

	var calls atomic.Int32
	compute := func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"AK-47 | Redline"}, nil
	}

	first, err := GetOrSet(ctx, aside, key, time.Minute, compute)
	require.NoError(t, err)
	second, err := GetOrSet(ctx, aside, key, time.Minute, compute)
	require.NoError(t, err)

	assert.Equal(t, []string{"AK-47 | Redline"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrSet_FalsyValuesAreHits(t *testing.T) {
	aside, _ := newTestAside(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func(key Key, calls *atomic.Int32) error
	}{
		{
			name: "false",
			run: func(key Key, calls *atomic.Int32) error {
				_, err := GetOrSet(ctx, aside, key, time.Minute, func(context.Context) (bool, error) {
					calls.Add(1)
					return false, nil
				})
				return err
			},
		},
		{
			name: "zero",
			run: func(key Key, calls *atomic.Int32) error {
				_, err := GetOrSet(ctx, aside, key, time.Minute, func(context.Context) (int, error) {
					calls.Add(1)
					return 0, nil
				})
				return err
			},
		},
		{
			name: "nil pointer",
			run: func(key Key, calls *atomic.Int32) error {
				_, err := GetOrSet(ctx, aside, key, time.Minute, func(context.Context) (*string, error) {
					calls.Add(1)
					return nil, nil
				})
				return err
			},
		},
		{
			name: "empty slice",
			run: func(key Key, calls *atomic.Int32) error {
				_, err := GetOrSet(ctx, aside, key, time.Minute, func(context.Context) ([]int, error) {
					calls.Add(1)
					return []int{}, nil
				})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewKey("falsy", "case", tt.name)
			var calls atomic.Int32

			require.NoError(t, tt.run(key, &calls))
			require.NoError(t, tt.run(key, &calls))

			assert.Equal(t, int32(1), calls.Load(), "falsy value must be served from cache")
		})
	}
}

func TestGetOrSet_ComputeErrorIsNotCached(t *testing.T) {
	aside, store := newTestAside(t)
	ctx := context.Background()
	key := NewKey("test", "id", "err")

	upstreamErr := errors.New("upstream returned 502")
	_, err := GetOrSet(ctx, aside, key, time.Minute, func(context.Context) (int, error) {
		return 0, upstreamErr
	})
	assert.ErrorIs(t, err, upstreamErr)

	_, found, err := store.Get(ctx, key.String())
	require.NoError(t, err)
	assert.False(t, found)

	v, err := GetOrSet(ctx, aside, key, time.Minute, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestGetOrSet_StoreFailureFallsBackToCompute(t *testing.T) {
	store := &failingStore{}
	aside := NewAside(store, zerolog.Nop())
	ctx := context.Background()

	var calls atomic.Int32
	for i := 0; i < 2; i++ {
		v, err := GetOrSet(ctx, aside, NewKey("test"), time.Minute, func(context.Context) (string, error) {
			calls.Add(1)
			return "fresh", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "fresh", v)
	}

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(2), store.sets.Load(), "write-back still attempted")
}

func TestGetOrSet_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	aside := NewAside(NewRedisStore(client), zerolog.Nop())
	mr.Close()

	v, err := GetOrSet(context.Background(), aside, NewKey("test"), time.Minute, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGetOrSet_TTLExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	aside := NewAside(NewRedisStore(client), zerolog.Nop())
	ctx := context.Background()
	key := NewKey("test", "id", "ttl")

	var calls atomic.Int32
	compute := func(context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}

	v, err := GetOrSet(ctx, aside, key, 30*time.Second, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	mr.FastForward(31 * time.Second)

	v, err = GetOrSet(ctx, aside, key, 30*time.Second, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestLookup_CorruptEntryIsEvicted(t *testing.T) {
	mr, client := setupTestRedis(t)
	aside := NewAside(NewRedisStore(client), zerolog.Nop())
	key := NewKey("test", "id", "corrupt")

	require.NoError(t, mr.Set(key.String(), "{not an envelope"))

	_, ok := Lookup[int](context.Background(), aside, key)
	assert.False(t, ok)
	assert.False(t, mr.Exists(key.String()))
}

func TestLookup_TypeMismatchIsMiss(t *testing.T) {
	aside, _ := newTestAside(t)
	ctx := context.Background()
	key := NewKey("test", "id", "mismatch")

	aside.Put(ctx, key, "text", time.Minute)

	_, ok := Lookup[int](ctx, aside, key)
	assert.False(t, ok)
}

func TestAside_Flush(t *testing.T) {
	mr, client := setupTestRedis(t)
	aside := NewAside(NewRedisStore(client), zerolog.Nop())
	ctx := context.Background()

	aside.Put(ctx, NewKey("a"), 1, 0)
	aside.Put(ctx, NewKey("b"), 2, 0)
	require.Len(t, mr.Keys(), 2)

	require.NoError(t, aside.Flush(ctx))
	assert.Empty(t, mr.Keys())

	_, ok := Lookup[int](ctx, aside, NewKey("a"))
	assert.False(t, ok)
}

func TestAside_FlushPropagatesStoreError(t *testing.T) {
	aside := NewAside(&failingStore{}, zerolog.Nop())
	assert.ErrorIs(t, aside.Flush(context.Background()), errStoreDown)
}
