package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/triviaquiz/triviaquiz/internal/logger"
	"github.com/triviaquiz/triviaquiz/internal/metrics"
)

// Cache is a thin Redis-backed key/value store for upstream responses.
type Cache struct {
	client  *redis.Client
	prefix  string
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New connects to Redis at addr and verifies the connection.
func New(ctx context.Context, addr string, m *metrics.Metrics) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log := logger.Default().WithComponent("cache")
	log.Info(ctx, "connected to redis", map[string]interface{}{"addr": addr})

	return NewWithClient(client, m), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, m *metrics.Metrics) *Cache {
	if m == nil {
		m = metrics.Default()
	}
	return &Cache{
		client:  client,
		prefix:  "triviaquiz:",
		log:     logger.Default().WithComponent("cache"),
		metrics: m,
	}
}

// Client exposes the underlying client for health checks.
func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Get returns the cached value and whether it was found. Redis errors are
// logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCacheMiss()
		c.log.Debug(ctx, "cache miss", map[string]interface{}{"key": key})
		return nil, false
	}
	if err != nil {
		c.metrics.RecordCacheMiss()
		c.log.Warn(ctx, "cache get failed", map[string]interface{}{"key": key, "error": err.Error()})
		return nil, false
	}
	c.metrics.RecordCacheHit()
	c.log.Debug(ctx, "cache hit", map[string]interface{}{"key": key})
	return val, true
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache set failed", map[string]interface{}{"key": key, "error": err.Error()})
		return err
	}
	c.log.Debug(ctx, "cache set", map[string]interface{}{"key": key, "ttl": ttl.String()})
	return nil
}

// GetJSON decodes a cached JSON value into dst.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn(ctx, "cache entry undecodable", map[string]interface{}{"key": key, "error": err.Error()})
		return false
	}
	return true
}

// SetJSON stores value encoded as JSON.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return c.Set(ctx, key, raw, ttl)
}
