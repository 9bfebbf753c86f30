package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// windowLimiter caps how many requests a buyer may make per fixed
// window. Checkout is the abuse target, so the key is the buyer UID.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]windowBucket
}

type windowBucket struct {
	used      int
	expiresAt time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]windowBucket),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || now.After(bucket.expiresAt) {
		l.buckets[key] = windowBucket{used: 1, expiresAt: now.Add(l.window)}
		l.dropStale(now)
		return true
	}
	if bucket.used >= l.limit {
		return false
	}
	bucket.used++
	l.buckets[key] = bucket
	return true
}

// dropStale runs under the lock whenever a new window opens, keeping
// the bucket map bounded by the set of recently active callers.
func (l *windowLimiter) dropStale(now time.Time) {
	for key, bucket := range l.buckets {
		if now.After(bucket.expiresAt) {
			delete(l.buckets, key)
		}
	}
}
