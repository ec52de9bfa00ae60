package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix   = "loanguard:rl:"
	defaultRedisAttempts = 10
)

// RedisBucketStore shares rate-limit buckets between instances.
// Each update is an optimistic WATCH/MULTI transaction retried on contention.
type RedisBucketStore struct {
	client      redis.UniversalClient
	prefix      string
	maxAttempts int
}

// NewRedisBucketStore creates a store that namespaces keys under prefix
func NewRedisBucketStore(client redis.UniversalClient, prefix string) *RedisBucketStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBucketStore{
		client:      client,
		prefix:      prefix,
		maxAttempts: defaultRedisAttempts,
	}
}

// Update loads, mutates and writes back the bucket for key. The key expires ttl after the last write.
func (s *RedisBucketStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(bucket *models.RateLimitBucket) error) error {
	if ttl <= 0 {
		return fmt.Errorf("invalid bucket ttl %s", ttl)
	}

	redisKey := s.prefix + key

	txf := func(tx *redis.Tx) error {
		var bucket models.RateLimitBucket

		raw, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &bucket); err != nil {
				return fmt.Errorf("corrupt rate limit bucket %q: %w", redisKey, err)
			}
		}

		if err := fn(&bucket); err != nil {
			return err
		}

		encoded, err := json.Marshal(bucket)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, encoded, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return fmt.Errorf("rate limit bucket %q: too much contention", redisKey)
}

// Ping checks connectivity, used by the health endpoint
func (s *RedisBucketStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
