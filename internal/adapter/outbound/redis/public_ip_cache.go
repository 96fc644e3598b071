package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paygate/server/internal/port/outbound"
	"github.com/paygate/server/internal/utils/metrics"
	"github.com/redis/go-redis/v9"
)

const publicIPKey = "paygate:public_ip"

// publicIPCache implements outbound.PublicIPCachePort.
type publicIPCache struct {
	client  redis.UniversalClient
	metrics *metrics.Metrics
}

// NewPublicIPCache creates a Redis-backed public IP cache. m may be nil.
func NewPublicIPCache(client redis.UniversalClient, m *metrics.Metrics) outbound.PublicIPCachePort {
	return &publicIPCache{client: client, metrics: m}
}

// Get returns an empty string when nothing is cached.
func (c *publicIPCache) Get(ctx context.Context) (string, error) {
	ip, err := c.client.Get(ctx, publicIPKey).Result()
	if errors.Is(err, redis.Nil) {
		c.record(false)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cached public ip: %w", err)
	}
	c.record(true)
	return ip, nil
}

func (c *publicIPCache) Set(ctx context.Context, ip string, ttl time.Duration) error {
	if err := c.client.Set(ctx, publicIPKey, ip, ttl).Err(); err != nil {
		return fmt.Errorf("cache public ip: %w", err)
	}
	return nil
}

func (c *publicIPCache) record(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.RecordCacheHit("public_ip")
	} else {
		c.metrics.RecordCacheMiss("public_ip")
	}
}

var _ outbound.PublicIPCachePort = (*publicIPCache)(nil)
