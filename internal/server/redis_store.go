package server

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig points the rate limiter at a shared Redis counter store so the
// mutation window holds across replicas.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	Timeout  time.Duration
}

type redisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func newRedisStore(cfg RedisConfig) *redisStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{strings.TrimSpace(cfg.Addr)},
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   2,
	})
	return &redisStore{client: client, timeout: timeout}
}

// Allow increments the window counter for key and reports whether the caller
// stayed within limit. The first increment of a window sets its expiry; a
// rejected caller receives the remaining window as the retry-after hint.
func (s *redisStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if window < time.Second {
			window = time.Second
		}
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}

func (s *redisStore) Close() {
	if s == nil || s.client == nil {
		return
	}
	_ = s.client.Close()
}
