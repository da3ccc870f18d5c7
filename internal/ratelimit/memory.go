package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type windowEntry struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is the in-process Limiter implementation. It keeps a
// mutex-guarded map of window counters and prunes stale entries in the
// background. Counting is per instance; use RedisLimiter for shared
// counting across replicas.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry

	limit  int
	window time.Duration
	now    func() time.Time
}

// MemoryLimiterOption customizes limiter behavior.
type MemoryLimiterOption func(*MemoryLimiter)

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) MemoryLimiterOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewMemoryLimiter creates a limiter admitting at most limit requests per
// window for each (user, product) key.
func NewMemoryLimiter(limit int, window time.Duration, opts ...MemoryLimiterOption) *MemoryLimiter {
	l := &MemoryLimiter{
		entries: make(map[string]*windowEntry),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.cleanup()
	return l
}

func limiterKey(userID, productID int) string {
	return fmt.Sprintf("%d:%d", userID, productID)
}

// Allow performs the atomic check-and-increment for one key. A denied call
// does not mutate the counter further.
func (l *MemoryLimiter) Allow(_ context.Context, userID, productID int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := limiterKey(userID, productID)
	e, ok := l.entries[k]
	if !ok || now.After(e.resetAt) {
		l.entries[k] = &windowEntry{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if e.count < l.limit {
		e.count++
		return true, nil
	}
	return false, nil
}

// Stats returns current limiter statistics (for monitoring).
func (l *MemoryLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := 0
	now := l.now()
	for _, e := range l.entries {
		if now.Before(e.resetAt) {
			active++
		}
	}
	return map[string]interface{}{
		"tracked_keys": len(l.entries),
		"active_keys":  active,
		"limit":        l.limit,
		"window_sec":   int(l.window.Seconds()),
	}
}

// cleanup periodically removes expired entries.
func (l *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		now := l.now()
		for k, e := range l.entries {
			if now.After(e.resetAt) {
				delete(l.entries, k)
			}
		}
		l.mu.Unlock()
	}
}
