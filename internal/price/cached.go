package price

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// QuoteCache is the subset of the Redis cache used for upstream quotes.
type QuoteCache interface {
	Get(ctx context.Context, key, endpoint string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

const cacheEndpoint = "price"

type cachedCrypto struct {
	next   CryptoSource
	cache  QuoteCache
	ttl    time.Duration
	logger *zap.Logger
}

// WithCryptoCache caches StablePrice results for ttl. Cache failures fall
// through to the wrapped source.
func WithCryptoCache(next CryptoSource, cache QuoteCache, ttl time.Duration, logger *zap.Logger) CryptoSource {
	if cache == nil || ttl <= 0 {
		return next
	}
	return &cachedCrypto{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *cachedCrypto) StablePrice(ctx context.Context, symbol string) (float64, error) {
	key := "quote:crypto:" + symbol
	if v, ok := lookup(ctx, c.cache, key, c.logger); ok {
		return v, nil
	}
	p, err := c.next.StablePrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	store(ctx, c.cache, key, p, c.ttl, c.logger)
	return p, nil
}

type cachedFiat struct {
	next   FiatSource
	cache  QuoteCache
	ttl    time.Duration
	logger *zap.Logger
}

// WithFiatCache caches Rate results for ttl.
func WithFiatCache(next FiatSource, cache QuoteCache, ttl time.Duration, logger *zap.Logger) FiatSource {
	if cache == nil || ttl <= 0 {
		return next
	}
	return &cachedFiat{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *cachedFiat) Rate(ctx context.Context, from, to string) (float64, error) {
	key := "quote:fiat:" + from + ":" + to
	if v, ok := lookup(ctx, c.cache, key, c.logger); ok {
		return v, nil
	}
	r, err := c.next.Rate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	store(ctx, c.cache, key, r, c.ttl, c.logger)
	return r, nil
}

func lookup(ctx context.Context, cache QuoteCache, key string, logger *zap.Logger) (float64, bool) {
	raw, err := cache.Get(ctx, key, cacheEndpoint)
	if err != nil {
		logger.Warn("Quote cache read failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func store(ctx context.Context, cache QuoteCache, key string, v float64, ttl time.Duration, logger *zap.Logger) {
	if err := cache.Set(ctx, key, strconv.FormatFloat(v, 'g', -1, 64), ttl); err != nil {
		logger.Warn("Quote cache write failed", zap.String("key", key), zap.Error(err))
	}
}
