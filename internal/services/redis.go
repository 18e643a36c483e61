package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oogiv/oogiv-web/internal/session"
	"github.com/redis/go-redis/v9"
)

// Redis implements session storage on a Redis server. Keys are namespaced per session and expire
// after the configured TTL, which every write renews.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

type redisSession struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to the Redis server at addr. A zero ttl keeps keys until they are deleted.
func NewRedis(addr, password string, db int, ttl time.Duration) Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return Redis{client: client, ttl: ttl}
}

// Ping checks if Redis is accessible.
func (r Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Session returns the storage of the session sessionID.
func (r Redis) Session(sessionID string) session.Storage {
	return redisSession{
		client: r.client,
		prefix: fmt.Sprintf("oogiv:session:%s:", sessionID),
		ttl:    r.ttl,
	}
}

// Close closes the Redis connection.
func (r Redis) Close() error {
	return r.client.Close()
}

func (s redisSession) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, true, nil
}

func (s redisSession) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.prefix+key, value, s.ttl).Err()
}

func (s redisSession) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.prefix + key
	}
	return s.client.Del(ctx, full...).Err()
}
