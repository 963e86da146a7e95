package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/i474232898/generation-mix-ingest/internal/mix"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second

	keyPrefix     = "genmix:"
	generationKey = keyPrefix + "generation"
)

// NewRedisClient returns a configured go-redis client and validates the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// RedisCache caches encoded read responses. Entries are namespaced by a generation
// counter that is bumped whenever an ingestion run writes rows, so stale entries are
// never served and simply expire.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache wraps client. A non-positive ttl disables expiry.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached value for key. Redis failures are treated as misses.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn("cache: read generation failed", zap.Error(err))
		return nil, false
	}

	val, err := c.client.Get(ctx, entryKey(gen, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache: get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return val, true
}

// Set stores value under key for the current generation.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn("cache: read generation failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, entryKey(gen, key), value, c.ttl).Err(); err != nil {
		c.logger.Warn("cache: set failed", zap.String("key", key), zap.Error(err))
	}
}

// ObserveRun invalidates every cached entry once new rows have been written.
func (c *RedisCache) ObserveRun(ctx context.Context, report mix.RunReport) {
	if report.Result.Upserted == 0 {
		return
	}
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		c.logger.Warn("cache: invalidate failed", zap.String("run_id", report.ID), zap.Error(err))
	}
}

func (c *RedisCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func entryKey(gen int64, key string) string {
	return keyPrefix + strconv.FormatInt(gen, 10) + ":" + key
}
