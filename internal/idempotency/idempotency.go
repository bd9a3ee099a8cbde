package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrDuplicateRequest = errors.New("request with this idempotency key was already processed")

const DefaultTTL = 24 * time.Hour

// Guard помнит ключи идемпотентности, чтобы повтор запроса не создал второй заказ.
type Guard interface {
	Acquire(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisGuard struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client redisClient, prefix string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

// Acquire занимает ключ через SET NX; занятый ключ даёт ErrDuplicateRequest.
func (g *RedisGuard) Acquire(ctx context.Context, key string) error {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if !ok {
		return fmt.Errorf("key %q: %w", key, ErrDuplicateRequest)
	}
	return nil
}

// Release освобождает ключ после неудачной обработки, чтобы клиент мог повторить запрос.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}
