// Package redis opens the shared go-redis client used by the eligibility,
// frozen-account and rate-limit stores.
package redis

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"custody/internal/platform/config"
)

// Client embeds the go-redis client so stores can take *redis.Client.
type Client struct {
	*redis.Client
}

// New connects and pings. It returns nil, nil when no URL is configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	applyPool(opts, cfg)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

func applyPool(opts *redis.Options, cfg config.RedisConfig) {
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
}

func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// RegisterPoolMetrics exposes the connection pool counters.
func (c *Client) RegisterPoolMetrics(reg prometheus.Registerer) {
	stat := func(name, help string, read func(*redis.PoolStats) uint32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "custody_redis_pool_" + name,
			Help: help,
		}, func() float64 { return float64(read(c.PoolStats())) })
	}
	reg.MustRegister(
		stat("hits", "Connections reused from the pool", func(s *redis.PoolStats) uint32 { return s.Hits }),
		stat("misses", "Connections the pool had to dial", func(s *redis.PoolStats) uint32 { return s.Misses }),
		stat("timeouts", "Waits for a free connection that timed out", func(s *redis.PoolStats) uint32 { return s.Timeouts }),
		stat("total_conns", "Open connections", func(s *redis.PoolStats) uint32 { return s.TotalConns }),
		stat("idle_conns", "Idle connections", func(s *redis.PoolStats) uint32 { return s.IdleConns }),
	)
}

func (c *Client) Close() error {
	return c.Client.Close()
}
