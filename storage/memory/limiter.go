package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Limiter is a fixed-window per-key rate limiter held in process memory.
// It implements billing.Limiter for single-instance deployments and tests.
type Limiter struct {
	mu            sync.Mutex
	buckets       map[string]*bucket
	limit         int
	window        time.Duration
	requestCount  int
	cleanupEvery  int
	cleanupAtSize int
	now           func() time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// NewLimiter creates a limiter allowing limit operations per key per window
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		buckets:       make(map[string]*bucket),
		limit:         limit,
		window:        window,
		cleanupEvery:  100,
		cleanupAtSize: 200,
		now:           time.Now,
	}
}

// Allow implements billing.Limiter
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	// Deterministic cleanup: every N calls or when the map grows too large
	l.requestCount++
	if l.requestCount%l.cleanupEvery == 0 || len(l.buckets) > l.cleanupAtSize {
		l.cleanupExpired(now)
		if l.requestCount >= l.cleanupEvery*10 {
			l.requestCount = 0
		}
	}

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}

	if b.count >= l.limit {
		return false, nil
	}
	b.count++
	return true, nil
}

func (l *Limiter) cleanupExpired(now time.Time) {
	for key, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, key)
		}
	}
}

// Cleanup removes all expired buckets
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanupExpired(l.now())
}

var _ billing.Limiter = (*Limiter)(nil)
