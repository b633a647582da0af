package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/saaga0h/parkwatch/pkg/redis"
)

// CursorStore persists the last processed row of a replayed source
type CursorStore interface {
	Load(ctx context.Context, tenantID, source string) (int64, error)
	Save(ctx context.Context, tenantID, source string, sequence int64) error
}

// RedisCursor keeps replay cursors in Redis without expiry
type RedisCursor struct {
	client redis.Client
}

// NewRedisCursor creates a Redis-backed cursor store
func NewRedisCursor(client redis.Client) *RedisCursor {
	return &RedisCursor{client: client}
}

func (c *RedisCursor) Load(ctx context.Context, tenantID, source string) (int64, error) {
	v, err := c.client.Get(ctx, redis.ReplayCursorKey(tenantID, source))
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}

	seq, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt replay cursor for %s/%s: %w", tenantID, source, err)
	}
	return seq, nil
}

func (c *RedisCursor) Save(ctx context.Context, tenantID, source string, sequence int64) error {
	return c.client.Set(ctx, redis.ReplayCursorKey(tenantID, source), strconv.FormatInt(sequence, 10), 0)
}

// MemoryCursor keeps replay cursors in process memory
type MemoryCursor struct {
	mu      sync.Mutex
	cursors map[string]int64
}

// NewMemoryCursor creates an empty in-memory cursor store
func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{cursors: make(map[string]int64)}
}

func (c *MemoryCursor) Load(ctx context.Context, tenantID, source string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[redis.ReplayCursorKey(tenantID, source)], nil
}

func (c *MemoryCursor) Save(ctx context.Context, tenantID, source string, sequence int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[redis.ReplayCursorKey(tenantID, source)] = sequence
	return nil
}
