// Package ratelimit throttles refresh attempts per session with fixed windows in Redis.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

const refreshWindow = time.Minute

// WindowStore increments a counter inside a fixed window.
type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RefreshLimiter allows at most perMinute refresh attempts per session per minute.
type RefreshLimiter struct {
	store     WindowStore
	perMinute int
}

// NewRefreshLimiter returns a limiter; perMinute <= 0 allows everything.
func NewRefreshLimiter(store WindowStore, perMinute int) *RefreshLimiter {
	if perMinute < 0 {
		perMinute = 0
	}
	return &RefreshLimiter{store: store, perMinute: perMinute}
}

// Allow counts one attempt for sessionID. When the window is exhausted it returns allowed=false and the
// time until the window resets.
func (l *RefreshLimiter) Allow(ctx context.Context, sessionID string) (time.Duration, bool, error) {
	if l.perMinute == 0 {
		return 0, true, nil
	}
	if sessionID == "" {
		return 0, false, errors.New("session id is required")
	}
	if l.store == nil {
		return 0, false, errors.New("rate limiter store is nil")
	}
	count, ttl, err := l.store.IncrementWindow(ctx, refreshKey(sessionID), refreshWindow)
	if err != nil {
		return 0, false, err
	}
	if count > int64(l.perMinute) {
		return ceilSecond(ttl), false, nil
	}
	return 0, true, nil
}

func refreshKey(sessionID string) string {
	return "rl:refresh:session:" + sessionID
}

func ceilSecond(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
