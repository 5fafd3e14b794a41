package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore keeps fixed-window counters in Redis.
type RedisStore struct {
	client *goredis.Client
}

// NewRedisStore returns a WindowStore backed by client.
func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// IncrementWindow bumps key and starts its window on the first hit. It returns the count and the time left
// in the window.
func (s *RedisStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s.client == nil {
		return 0, 0, errors.New("redis client is nil")
	}
	if key == "" || window <= 0 {
		return 0, 0, errors.New("invalid rate window")
	}

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("increment rate key: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("set rate key ttl: %w", err)
		}
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read rate key ttl: %w", err)
	}
	if ttl < 0 {
		// A key left without expiry (crash between INCR and EXPIRE) would block forever; repair it.
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("repair rate key ttl: %w", err)
		}
		ttl = window
	}
	return count, ttl, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return errors.New("redis client is nil")
	}
	return s.client.Ping(ctx).Err()
}
