package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pricealerts/internal/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var (
	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"endpoint", "instance"},
	)
	cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"endpoint", "instance"},
	)
)

func init() {
	prometheus.MustRegister(cacheHitsTotal)
	prometheus.MustRegister(cacheMissesTotal)
}

// Client wraps a Redis connection shared by the quote cache, the API
// response cache, trigger pub/sub and alert locks.
type Client struct {
	rdb      *redis.Client
	instance string
	logger   *zap.Logger
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Instance string
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Redis connection established", zap.String("addr", opts.Addr))
	return &Client{rdb: rdb, instance: opts.Instance, logger: logger}, nil
}

// Redis exposes the underlying client for redis_rate and locks.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Get returns the cached value, or "" and no error on a miss.
func (c *Client) Get(ctx context.Context, key, endpoint string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		cacheMissesTotal.WithLabelValues(endpoint, c.instance).Inc()
		return "", nil
	}
	if err != nil {
		return "", err
	}
	cacheHitsTotal.WithLabelValues(endpoint, c.instance).Inc()
	return val, nil
}

// Set stores value under key for ttl.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// InvalidateByPrefix deletes every key starting with prefix.
func (c *Client) InvalidateByPrefix(ctx context.Context, prefix, endpoint string) {
	tracer := otel.Tracer(tracing.TracerName)
	ctx, span := tracer.Start(ctx, "InvalidateByPrefix")
	defer span.End()

	keys, err := c.scanKeys(ctx, prefix)
	if err != nil {
		c.logger.Error("Failed to get cache keys for invalidation",
			zap.String("prefix", prefix),
			zap.String("endpoint", endpoint),
			zap.String("instance", c.instance),
			zap.Error(err),
		)
		return
	}

	invalidated := 0
	for _, key := range keys {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("Failed to invalidate cache key",
				zap.String("key", key),
				zap.String("prefix", prefix),
				zap.Error(err),
			)
			continue
		}
		invalidated++
	}

	c.logger.Debug("Cache invalidation completed",
		zap.String("prefix", prefix),
		zap.String("endpoint", endpoint),
		zap.String("instance", c.instance),
		zap.Int("invalidated_keys", invalidated),
	)
}

func (c *Client) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		found, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, found...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
