// Package redis provides a Redis-backed fixed-window implementation of billing.Limiter.
// Counters are shared across instances so throttling holds behind a load balancer.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Limiter implements billing.Limiter using Redis counters
type Limiter struct {
	client redis.UniversalClient
	config Config
	script *redis.Script
}

// Config holds Redis limiter configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "billingsync:ratelimit:")
	KeyPrefix string

	// Limit is the number of operations allowed per key per window (default: 5)
	Limit int

	// Window is the length of one counting window (default: 1 minute)
	Window time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "billingsync:ratelimit:",
		Limit:     5,
		Window:    time.Minute,
	}
}

// New creates a new Redis limiter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Limiter, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", billing.ErrConfiguration)
	}

	defaults := DefaultConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.Limit <= 0 {
		config.Limit = defaults.Limit
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}

	return &Limiter{
		client: client,
		config: config,
		// INCR and the first-hit PEXPIRE run as one script
		script: redis.NewScript(`
			local count = redis.call('INCR', KEYS[1])
			if count == 1 then
				redis.call('PEXPIRE', KEYS[1], ARGV[1])
			end
			return count
		`),
	}, nil
}

// NewFromURL parses a redis:// URL and builds a limiter on a new client
func NewFromURL(url string, config Config) (*Limiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis url: %v", billing.ErrConfiguration, err)
	}
	return New(redis.NewClient(opts), config)
}

// Allow implements billing.Limiter
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.script.Run(ctx, l.client, []string{l.key(key)}, l.config.Window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	return count <= int64(l.config.Limit), nil
}

// Ping checks Redis connectivity
func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (l *Limiter) Close() error {
	return l.client.Close()
}

func (l *Limiter) key(key string) string {
	return l.config.KeyPrefix + key
}

var _ billing.Limiter = (*Limiter)(nil)
