// Package cache provides Redis connection and key helpers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ConfigFromURL parses a redis:// URL on top of the defaults.
// ReadTimeout stays above zero so blocking list pops are not cut short by
// the client before the server-side timeout elapses.
func ConfigFromURL(rawURL string) (*Config, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Addr = opts.Addr
	cfg.Password = opts.Password
	cfg.DB = opts.DB
	return cfg, nil
}

// Client wraps redis.Client with key prefixing.
type Client struct {
	*redis.Client
	logger    *slog.Logger
	keyPrefix string
}

// Connect creates a new Redis connection.
func Connect(ctx context.Context, cfg *Config) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{
		Client: client,
		logger: slog.Default(),
	}, nil
}

// WithLogger sets the logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithKeyPrefix sets a prefix for all keys.
func (c *Client) WithKeyPrefix(prefix string) *Client {
	c.keyPrefix = prefix
	return c
}

// Key returns key with the configured prefix applied.
func (c *Client) Key(parts ...string) string {
	return JoinKey(c.keyPrefix, parts...)
}

// JoinKey joins non-empty key segments with ':'.
func JoinKey(prefix string, parts ...string) string {
	key := prefix
	for _, p := range parts {
		if p == "" {
			continue
		}
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}

// Get retrieves a value. A missing key yields "" and no error.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	result, err := c.Client.Get(ctx, c.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return result, err
}

// Set stores a string value with an expiration.
func (c *Client) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return c.Client.Set(ctx, c.Key(key), value, expiration).Err()
}

// Exists checks if a key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.Client.Exists(ctx, c.Key(key)).Result()
	return n > 0, err
}

// Delete removes keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.Key(k)
	}
	return c.Client.Del(ctx, prefixed...).Err()
}

// TTL returns the remaining time to live for a key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.Client.TTL(ctx, c.Key(key)).Result()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.Client.Close()
}
