package ingest

import (
	"context"
	"time"

	"github.com/saaga0h/parkwatch/pkg/redis"
)

// DeliveryGuard short-circuits broker re-deliveries of live readings
// before they reach the store
type DeliveryGuard interface {
	// Claim reports whether the caller is the first to see key
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a later re-delivery is processed again
	Release(ctx context.Context, key string) error
}

// RedisGuard keeps delivery markers in Redis with a TTL
type RedisGuard struct {
	client redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a guard whose markers expire after ttl
func NewRedisGuard(client redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, key, time.Now().UnixMilli(), g.ttl)
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, key)
}
