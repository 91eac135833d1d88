package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirbilling/backend/internal/domain"
)

const receiptKeyPrefix = "purchase:"

type RedisReceiptCache struct {
	client *redis.Client
}

func NewRedisReceiptCache(addr string, password string, db int) *RedisReceiptCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReceiptCache{client: client}
}

// NewRedisReceiptCacheFromClient wraps an existing client. Close closes it.
func NewRedisReceiptCacheFromClient(client *redis.Client) *RedisReceiptCache {
	return &RedisReceiptCache{client: client}
}

func (c *RedisReceiptCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReceiptCache) Close() error {
	return c.client.Close()
}

func (c *RedisReceiptCache) Get(ctx context.Context, purchaseID int64) (*domain.Purchase, bool, error) {
	val, err := c.client.Get(ctx, receiptKey(purchaseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var purchase domain.Purchase
	if err := json.Unmarshal(val, &purchase); err != nil {
		return nil, false, fmt.Errorf("%w: purchase %d: %v", ErrCorruptEntry, purchaseID, err)
	}
	return &purchase, true, nil
}

func (c *RedisReceiptCache) Set(ctx context.Context, purchase *domain.Purchase, ttl time.Duration) error {
	if purchase == nil || purchase.ID == 0 {
		return nil
	}
	payload, err := json.Marshal(purchase)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, receiptKey(purchase.ID), payload, ttl).Err()
}

func (c *RedisReceiptCache) Delete(ctx context.Context, purchaseID int64) error {
	return c.client.Del(ctx, receiptKey(purchaseID)).Err()
}

func receiptKey(purchaseID int64) string {
	return fmt.Sprintf("%s%d", receiptKeyPrefix, purchaseID)
}
