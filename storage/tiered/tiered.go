// Package tiered composes a shared primary limiter with an in-process fallback.
// The primary (usually Redis) is consulted first; when it errors the
// fallback answers instead.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Config configures the tiered limiter
type Config struct {
	// Primary is the shared limiter (e.g., Redis)
	Primary billing.Limiter

	// Fallback is consulted when Primary returns an error (e.g., memory)
	Fallback billing.Limiter

	// OnPrimaryError is called with every primary failure.
	// Useful for monitoring how often limiting runs degraded.
	OnPrimaryError func(error)
}

// Limiter implements billing.Limiter over two tiers
type Limiter struct {
	primary  billing.Limiter
	fallback billing.Limiter
	onError  func(error)

	degraded atomic.Int64
}

// New creates a tiered limiter. Both tiers are required.
func New(config Config) (*Limiter, error) {
	if config.Primary == nil || config.Fallback == nil {
		return nil, fmt.Errorf("%w: tiered limiter: both primary and fallback are required", billing.ErrConfiguration)
	}
	return &Limiter{
		primary:  config.Primary,
		fallback: config.Fallback,
		onError:  config.OnPrimaryError,
	}, nil
}

// Allow implements billing.Limiter
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, err := l.primary.Allow(ctx, key)
	if err == nil {
		return allowed, nil
	}
	if errors.Is(err, context.Canceled) {
		return false, err
	}

	l.degraded.Add(1)
	if l.onError != nil {
		l.onError(fmt.Errorf("tiered limiter primary failed: %w", err))
	}
	return l.fallback.Allow(ctx, key)
}

// Degraded returns how many decisions the fallback has made
func (l *Limiter) Degraded() int64 {
	return l.degraded.Load()
}

// Close closes any tier that holds resources
func (l *Limiter) Close() error {
	var errs []error
	for _, tier := range []billing.Limiter{l.primary, l.fallback} {
		if c, ok := tier.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
