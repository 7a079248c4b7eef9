package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

const itemKeyPrefix = "trickplay:item:"

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func itemKey(itemID string) string {
	return itemKeyPrefix + itemID
}

// SetItem caches a catalog item
func (c *Cache) SetItem(ctx context.Context, item *models.VideoItem, ttl time.Duration) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	return c.client.Set(ctx, itemKey(item.ID), data, ttl).Err()
}

// GetItem retrieves a cached catalog item; a miss returns nil, nil
func (c *Cache) GetItem(ctx context.Context, itemID string) (*models.VideoItem, error) {
	data, err := c.client.Get(ctx, itemKey(itemID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get item from cache: %w", err)
	}

	var item models.VideoItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &item, nil
}

// DeleteItem removes a cached item
func (c *Cache) DeleteItem(ctx context.Context, itemID string) error {
	return c.client.Del(ctx, itemKey(itemID)).Err()
}

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, "trickplay:lock:"+resource, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	return c.client.Del(ctx, "trickplay:lock:"+resource).Err()
}

var (
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// AcquireOwnedLock takes resource for token. Only the holder of token can
// extend or release it.
func (c *Cache) AcquireOwnedLock(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, "trickplay:lock:"+resource, token, ttl).Result()
}

// ExtendLock resets the ttl of resource if token still holds it
func (c *Cache) ExtendLock(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, c.client, []string{"trickplay:lock:" + resource}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseOwnedLock deletes resource if token still holds it
func (c *Cache) ReleaseOwnedLock(ctx context.Context, resource, token string) error {
	return releaseScript.Run(ctx, c.client, []string{"trickplay:lock:" + resource}, token).Err()
}
