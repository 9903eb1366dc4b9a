package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client is a thin cache over Redis. It never carries authoritative state:
// stock snapshots are refreshed after committed adjustments and idempotency
// keys only short-circuit retries the database would also catch.
type Client struct {
	rdb     *redis.Client
	idemTTL time.Duration
}

// NewClient connects to Redis and verifies the connection.
func NewClient(addr, password string, db int, idemTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, idemTTL: idemTTL}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func variantKey(variantID int64) string {
	return fmt.Sprintf("variant:stock:%d", variantID)
}

// CacheVariantStock stores a committed stock snapshot for read endpoints.
func (c *Client) CacheVariantStock(ctx context.Context, variantID int64, stock int, ttl time.Duration) error {
	return c.rdb.Set(ctx, variantKey(variantID), stock, ttl).Err()
}

// GetCachedVariantStock returns the cached stock snapshot, reporting a miss
// through the second return value.
func (c *Client) GetCachedVariantStock(ctx context.Context, variantID int64) (int, bool, error) {
	val, err := c.rdb.Get(ctx, variantKey(variantID)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// InvalidateVariantStock drops a variant's cached snapshot.
func (c *Client) InvalidateVariantStock(ctx context.Context, variantID int64) error {
	return c.rdb.Del(ctx, variantKey(variantID)).Err()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// RememberOrderID records which order an idempotency key produced.
func (c *Client) RememberOrderID(ctx context.Context, key string, orderID int64) error {
	return c.rdb.Set(ctx, idempotencyKey(key), orderID, c.idemTTL).Err()
}

// GetOrderID looks up the order an idempotency key produced, reporting a miss
// through the second return value.
func (c *Client) GetOrderID(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}
