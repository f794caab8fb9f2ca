package server

import (
	"fmt"
	"sync"
	"time"
)

type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int
	// MutationLimit caps transcode trigger, retry, and create calls per
	// client IP within MutationWindow.
	MutationLimit  int
	MutationWindow time.Duration
	Redis          RedisConfig
}

type rateLimiter struct {
	global          *tokenBucket
	mutationLimit   int
	mutationWindow  time.Duration
	mutationMu      sync.Mutex
	mutationBuckets map[string]*ipLimiter
	store           *redisStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		mutationLimit:   cfg.MutationLimit,
		mutationWindow:  cfg.MutationWindow,
		mutationBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.mutationLimit <= 0 {
		rl.mutationLimit = 0
	}
	if rl.mutationWindow <= 0 {
		rl.mutationWindow = time.Minute
	}
	if cfg.Redis.Addr != "" && rl.mutationLimit > 0 {
		rl.store = newRedisStore(cfg.Redis)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowMutation applies the per-IP window. With Redis configured the counter
// is shared across replicas; otherwise it falls back to in-process buckets.
func (r *rateLimiter) AllowMutation(key string) (bool, time.Duration, error) {
	if r == nil || r.mutationLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		return r.store.Allow(fmt.Sprintf("mediaforge:mutation:%s", key), r.mutationLimit, r.mutationWindow)
	}
	if key == "" {
		key = "unknown"
	}
	r.mutationMu.Lock()
	bucket, exists := r.mutationBuckets[key]
	if !exists {
		rate := float64(r.mutationLimit) / r.mutationWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.mutationWindow.Seconds()
		}
		bucket = &ipLimiter{bucket: newTokenBucket(rate, r.mutationLimit)}
		r.mutationBuckets[key] = bucket
	}
	bucket.lastSeen = time.Now()
	r.cleanupLocked()
	r.mutationMu.Unlock()

	if bucket.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) Close() {
	if r == nil || r.store == nil {
		return
	}
	r.store.Close()
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.mutationBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.mutationWindow)
	for key, bucket := range r.mutationBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.mutationBuckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	now := time.Now()
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: now,
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}
