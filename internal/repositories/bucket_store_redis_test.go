package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisBucketStore, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisBucketStore(client, "test:"), s
}

func TestRedisBucketStore_UpdateRoundTrip(t *testing.T) {
	store, s := newTestRedisStore(t)
	ctx := context.Background()
	blocked := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)

	require.NoError(t, store.Update(ctx, "login:1.2.3.4", time.Minute, func(bucket *models.RateLimitBucket) error {
		assert.Zero(t, *bucket)
		bucket.Points = 4
		bucket.WindowStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		bucket.BlockedUntil = &blocked
		return nil
	}))

	assert.True(t, s.Exists("test:login:1.2.3.4"))
	assert.Equal(t, time.Minute, s.TTL("test:login:1.2.3.4"))

	var seen models.RateLimitBucket
	require.NoError(t, store.Update(ctx, "login:1.2.3.4", time.Minute, func(bucket *models.RateLimitBucket) error {
		seen = *bucket
		return nil
	}))

	assert.Equal(t, 4, seen.Points)
	require.NotNil(t, seen.BlockedUntil)
	assert.True(t, blocked.Equal(*seen.BlockedUntil))
}

func TestRedisBucketStore_KeyExpires(t *testing.T) {
	store, s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "k", time.Minute, func(bucket *models.RateLimitBucket) error {
		bucket.Points = 1
		return nil
	}))

	s.FastForward(61 * time.Second)

	require.NoError(t, store.Update(ctx, "k", time.Minute, func(bucket *models.RateLimitBucket) error {
		assert.Zero(t, bucket.Points)
		return nil
	}))
}

func TestRedisBucketStore_FnErrorIsReturned(t *testing.T) {
	store, s := newTestRedisStore(t)
	boom := errors.New("boom")

	err := store.Update(context.Background(), "k", time.Minute, func(bucket *models.RateLimitBucket) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, s.Exists("test:k"))
}

func TestRedisBucketStore_CorruptValue(t *testing.T) {
	store, s := newTestRedisStore(t)
	require.NoError(t, s.Set("test:k", "not json"))

	err := store.Update(context.Background(), "k", time.Minute, func(bucket *models.RateLimitBucket) error {
		return nil
	})

	assert.Error(t, err)
}

func TestRedisBucketStore_ServerDown(t *testing.T) {
	store, s := newTestRedisStore(t)
	s.Close()

	err := store.Update(context.Background(), "k", time.Minute, func(bucket *models.RateLimitBucket) error {
		return nil
	})

	assert.Error(t, err)
	assert.Error(t, store.Ping(context.Background()))
}

func TestRedisBucketStore_ConcurrentUpdatesNoLostWrites(t *testing.T) {
	store, _ := newTestRedisStore(t)
	store.maxAttempts = 1000
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Update(ctx, "k", time.Minute, func(bucket *models.RateLimitBucket) error {
				bucket.Points++
				return nil
			}))
		}()
	}
	wg.Wait()

	var seen models.RateLimitBucket
	require.NoError(t, store.Update(ctx, "k", time.Minute, func(bucket *models.RateLimitBucket) error {
		seen = *bucket
		return nil
	}))
	assert.Equal(t, 20, seen.Points)
}

func TestRedisBucketStore_InvalidTTL(t *testing.T) {
	store, _ := newTestRedisStore(t)

	err := store.Update(context.Background(), "k", 0, func(bucket *models.RateLimitBucket) error {
		return nil
	})

	assert.Error(t, err)
}
