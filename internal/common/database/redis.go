// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"time"

	"rfq-workers/internal/common/config"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPoolSize = 20
	redisDialTimeout     = 5 * time.Second
	redisIOTimeout       = 3 * time.Second
)

// RedisClient is shared by the session store and the contract cache.
type RedisClient struct {
	client *redis.Client
}

func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultRedisPoolSize
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisIOTimeout,
		WriteTimeout: redisIOTimeout,
		PoolSize:     poolSize,
		MinIdleConns: cfg.MinIdle,
	})

	return &RedisClient{client: rdb}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}
