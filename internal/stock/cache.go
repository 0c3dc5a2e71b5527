package stock

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "stock:last_sync"

// Cache keeps the latest sync result in Redis so the dashboard can show it
// without re-running a sync.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// StoreSnapshot writes the sync result under a TTL.
func (c *Cache) StoreSnapshot(ctx context.Context, result SyncResult) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey, raw, c.ttl).Err()
}

// LoadSnapshot returns the cached sync result, or nil when none is cached.
func (c *Cache) LoadSnapshot(ctx context.Context) (*SyncResult, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result SyncResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
