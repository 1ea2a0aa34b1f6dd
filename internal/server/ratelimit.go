package server

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig bounds request volume: a global token bucket over every
// route plus a per-IP window on token issuance, the one endpoint an
// unauthenticated caller can use to make the server do signing work. When
// RedisAddr is set the per-IP window is counted in Redis so multiple
// replicas share one budget; otherwise counting is in-process.
type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	TokenLimit    int
	TokenWindow   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

type rateLimiter struct {
	global      *tokenBucket
	tokenLimit  int
	tokenWindow time.Duration
	ipMu        sync.Mutex
	ipBuckets   map[string]*ipLimiter
	store       tokenStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		tokenLimit:  cfg.TokenLimit,
		tokenWindow: cfg.TokenWindow,
		ipBuckets:   make(map[string]*ipLimiter),
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
	if rl.tokenWindow <= 0 {
		rl.tokenWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.tokenLimit > 0 {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rl.store = newRedisCounterStore(cfg.RedisAddr, cfg.RedisPassword, timeout)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

func (r *rateLimiter) AllowTokenIssuance(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.tokenLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		return r.store.Allow(ctx, fmt.Sprintf("coursestream:tokens:%s", key), r.tokenLimit, r.tokenWindow)
	}
	if key == "" {
		key = "unknown"
	}
	r.ipMu.Lock()
	bucket, exists := r.ipBuckets[key]
	if !exists {
		rate := float64(r.tokenLimit) / r.tokenWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.tokenWindow.Seconds()
		}
		bucket = &ipLimiter{bucket: newTokenBucket(rate, r.tokenLimit)}
		r.ipBuckets[key] = bucket
	}
	bucket.lastSeen = time.Now()
	r.cleanupLocked()
	r.ipMu.Unlock()

	if bucket.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.ipBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.tokenWindow)
	for key, bucket := range r.ipBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.ipBuckets, key)
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
