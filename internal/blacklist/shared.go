package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SharedSet mirrors blacklist pushes in a Redis set so multiple engine
// instances converge on new entries inside one rebuild interval instead
// of waiting for their own rebuild to observe the store. The store stays
// authoritative; the mirror is derived state and can be flushed at will.
type SharedSet struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewSharedSet creates a SharedSet on the given Redis client. ttl bounds
// how long mirror entries outlive the pushes that created them; each push
// refreshes it.
func NewSharedSet(rdb *redis.Client, key string, ttl time.Duration) *SharedSet {
	if key == "" {
		key = "success_library:blacklist"
	}
	return &SharedSet{rdb: rdb, key: key, ttl: ttl}
}

// Add records a token in the shared set.
func (s *SharedSet) Add(ctx context.Context, tokenAddress string) error {
	if err := s.rdb.SAdd(ctx, s.key, tokenAddress).Err(); err != nil {
		return fmt.Errorf("sadd blacklist mirror: %w", err)
	}
	if s.ttl > 0 {
		if err := s.rdb.Expire(ctx, s.key, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire blacklist mirror: %w", err)
		}
	}
	return nil
}

// Members returns all tokens currently in the shared set.
func (s *SharedSet) Members(ctx context.Context) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers blacklist mirror: %w", err)
	}
	return members, nil
}
