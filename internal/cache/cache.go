// Package cache stores worker results in redis, keyed by the payload they
// were computed from.
package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
)

const (
	KeyPrefix  = "match:"
	DefaultTTL = 10 * time.Minute
)

// Key derives the cache key for an encoded worker payload.
func Key(payload []byte) string {
	sum := blake3.Sum256(payload)
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Options configures a Redis cache.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Logger   *slog.Logger
}

// Redis is a result cache. A nil *Redis is a valid cache that never hits.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New returns nil when opts.Addr is empty.
func New(opts Options) *Redis {
	if opts.Addr == "" {
		return nil
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 2 * time.Second,
		ReadTimeout: time.Second,
	})
	return &Redis{client: client, ttl: ttl, logger: logger.With("component", "cache")}
}

// Ping checks the connection.
func (c *Redis) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Get returns the cached value for key. Misses and redis errors both
// report false; errors are logged.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	return val, true
}

// Set stores value under key for the configured TTL.
func (c *Redis) Set(ctx context.Context, key string, value []byte) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Close releases the client.
func (c *Redis) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
