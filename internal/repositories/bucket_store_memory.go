package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
)

// MemoryBucketStore keeps rate-limit buckets in process memory.
// Buckets do not survive a restart and are not shared between instances.
type MemoryBucketStore struct {
	mu           sync.Mutex
	entries      map[string]*bucketEntry
	clock        func() time.Time
	lastCleanup  time.Time
	cleanupEvery time.Duration
}

type bucketEntry struct {
	bucket    models.RateLimitBucket
	expiresAt time.Time
}

// NewMemoryBucketStore creates an empty store that sweeps expired buckets
// inline at most once per cleanupEvery
func NewMemoryBucketStore(cleanupEvery time.Duration) *MemoryBucketStore {
	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}
	return &MemoryBucketStore{
		entries:      map[string]*bucketEntry{},
		clock:        time.Now,
		lastCleanup:  time.Now(),
		cleanupEvery: cleanupEvery,
	}
}

// Update applies fn to the bucket under the store mutex. Expired buckets
// are handed to fn as the zero value.
func (s *MemoryBucketStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(bucket *models.RateLimitBucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if now.Sub(s.lastCleanup) >= s.cleanupEvery {
		s.sweep(now)
		s.lastCleanup = now
	}

	var bucket models.RateLimitBucket
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		bucket = e.bucket
	}

	if err := fn(&bucket); err != nil {
		return err
	}

	s.entries[key] = &bucketEntry{bucket: bucket, expiresAt: now.Add(ttl)}
	return nil
}

// DeleteExpired drops buckets whose ttl ran out before cutoff
func (s *MemoryBucketStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweep(cutoff), nil
}

// Len reports the number of tracked buckets
func (s *MemoryBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryBucketStore) sweep(cutoff time.Time) int64 {
	var removed int64
	for k, e := range s.entries {
		if !cutoff.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
