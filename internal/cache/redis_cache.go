package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"temanngopi/pos/internal/domain"
)

const menuKey = "temanngopi:menu:v1"

type RedisMenuCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMenuCache(addr string, password string, db int, ttl time.Duration) *RedisMenuCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisMenuCache{client: client, ttl: ttl}
}

func (c *RedisMenuCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisMenuCache) Close() error {
	return c.client.Close()
}

func (c *RedisMenuCache) Get(ctx context.Context) ([]domain.MenuSection, bool) {
	val, err := c.client.Get(ctx, menuKey).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("[cache] WARN: menu get failed: %v", err)
		return nil, false
	}

	var sections []domain.MenuSection
	if err := json.Unmarshal([]byte(val), &sections); err != nil {
		return nil, false
	}
	return sections, true
}

func (c *RedisMenuCache) Set(ctx context.Context, sections []domain.MenuSection) {
	payload, err := json.Marshal(sections)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, menuKey, payload, c.ttl).Err(); err != nil {
		log.Printf("[cache] WARN: menu set failed: %v", err)
	}
}

func (c *RedisMenuCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, menuKey).Err()
}
