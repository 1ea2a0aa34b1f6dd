package transcode

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisLockerConfig configures the Redis-backed locker used when several
// instances share one media root.
type RedisLockerConfig struct {
	Addr          string
	Username      string
	Password      string
	DB            int
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
}

type redisLocker struct {
	client        *redis.Client
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
}

// releaseScript deletes the lock only when it is still owned by the caller,
// so a lock that expired and was re-acquired elsewhere is never released by
// the original holder.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`

// NewRedisLocker connects a distributed per-key lock backed by SET NX with a
// TTL. The TTL bounds lock lifetime if a holder dies mid-section.
func NewRedisLocker(cfg RedisLockerConfig) (Locker, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "coursestream:lock"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisLocker{client: client, prefix: prefix, ttl: ttl, retryInterval: retry}, nil
}

func (l *redisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token, err := lockToken()
	if err != nil {
		return nil, err
	}
	fullKey := l.prefix + ":" + key
	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		acquired, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if acquired {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = l.client.Eval(releaseCtx, releaseScript, []string{fullKey}, token).Err()
			}
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func lockToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
