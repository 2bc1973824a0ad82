package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps redis for the two jobs the core gives it: serializing
// callback processing per checkout request id, and caching the payment
// status read model for the polling endpoint. Redis is never the source
// of truth for business state.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
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

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireCallbackLock takes the processing lock for one checkout request
// id so duplicate callback deliveries serialize. Returns false when
// another delivery holds it.
func (c *Client) AcquireCallbackLock(ctx context.Context, checkoutRequestID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, callbackLockKey(checkoutRequestID), "1", ttl).Result()
}

// ReleaseCallbackLock releases the processing lock.
func (c *Client) ReleaseCallbackLock(ctx context.Context, checkoutRequestID string) error {
	return c.rdb.Del(ctx, callbackLockKey(checkoutRequestID)).Err()
}

// CachePaymentStatus stores the polled status briefly so bursts of
// client polling do not hit the database.
func (c *Client) CachePaymentStatus(ctx context.Context, checkoutRequestID, status string, ttl time.Duration) error {
	return c.rdb.Set(ctx, statusKey(checkoutRequestID), status, ttl).Err()
}

// GetCachedPaymentStatus returns the cached status, empty when absent.
func (c *Client) GetCachedPaymentStatus(ctx context.Context, checkoutRequestID string) (string, error) {
	status, err := c.rdb.Get(ctx, statusKey(checkoutRequestID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return status, err
}

// InvalidatePaymentStatus drops the cached status after a callback
// changes the authoritative state.
func (c *Client) InvalidatePaymentStatus(ctx context.Context, checkoutRequestID string) error {
	return c.rdb.Del(ctx, statusKey(checkoutRequestID)).Err()
}

func callbackLockKey(id string) string {
	return fmt.Sprintf("callback-lock:%s", id)
}

func statusKey(id string) string {
	return fmt.Sprintf("payment-status:%s", id)
}
