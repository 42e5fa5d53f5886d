// Package cache provides Redis-backed caching for dispatcher responses.
//
// The two hot read paths, per-agent task lists and system variables, are
// cached with short TTLs. Task and variable mutations invalidate eagerly so
// agents converge on the next sync rather than waiting out the TTL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/probenet-io/probenet/control-plane/internal/config"
)

const keyPrefix = "probenet:cache:"

// Cache provides Redis-backed response caching.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a cache connected to the given Redis address.
func New(addr string, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), config.RedisConnectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Cache{
		client: client,
		logger: logger,
	}, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// AgentTasksKey is the cache key for one agent's task list.
func AgentTasksKey(agentID string) string {
	return "agent_tasks:" + agentID
}

// SystemVariablesKey is the cache key for the system variable list.
const SystemVariablesKey = "system_variables"

// Get retrieves a cached value. Returns nil on miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.client.Set(ctx, keyPrefix+key, data, ttl).Err()
}

// GetJSON retrieves and unmarshals a cached JSON value. The bool reports a
// cache hit.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals and stores a JSON value.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}

// InvalidateAgentTasks drops every cached per-agent task list. Called after
// any task mutation; scoping the drop per agent is not worth it since task
// visibility lists can change arbitrarily.
func (c *Cache) InvalidateAgentTasks(ctx context.Context) {
	if err := c.deletePattern(ctx, "agent_tasks:*"); err != nil {
		c.logger.Warn("failed to invalidate agent task cache", "error", err)
	}
}

// InvalidateSystemVariables drops the cached system variable list.
func (c *Cache) InvalidateSystemVariables(ctx context.Context) {
	if err := c.Delete(ctx, SystemVariablesKey); err != nil && err != redis.Nil {
		c.logger.Warn("failed to invalidate system variable cache", "error", err)
	}
}

func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
