package tiered

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/storage/memory"
)

type stubLimiter struct {
	allowed bool
	err     error
	calls   int
	closed  bool
}

func (s *stubLimiter) Allow(context.Context, string) (bool, error) {
	s.calls++
	return s.allowed, s.err
}

func (s *stubLimiter) Close() error {
	s.closed = true
	return nil
}

func TestNew_RequiresBothTiers(t *testing.T) {
	_, err := New(Config{Primary: &stubLimiter{}})
	assert.ErrorIs(t, err, billing.ErrConfiguration)

	_, err = New(Config{Fallback: &stubLimiter{}})
	assert.ErrorIs(t, err, billing.ErrConfiguration)
}

func TestAllow_PrimaryDecides(t *testing.T) {
	primary := &stubLimiter{allowed: false}
	fallback := &stubLimiter{allowed: true}
	l, err := New(Config{Primary: primary, Fallback: fallback})
	require.NoError(t, err)

	allowed, err := l.Allow(context.Background(), "sync:u1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, fallback.calls)
	assert.Zero(t, l.Degraded())
}

func TestAllow_FallsBackOnPrimaryError(t *testing.T) {
	var reported []error
	l, err := New(Config{
		Primary:        &stubLimiter{err: errors.New("redis down")},
		Fallback:       memory.NewLimiter(1, time.Minute),
		OnPrimaryError: func(err error) { reported = append(reported, err) },
	})
	require.NoError(t, err)

	allowed, err := l.Allow(context.Background(), "sync:u1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Allow(context.Background(), "sync:u1")
	require.NoError(t, err)
	assert.False(t, allowed, "fallback still enforces the limit")

	assert.Equal(t, int64(2), l.Degraded())
	require.Len(t, reported, 2)
	assert.Contains(t, reported[0].Error(), "redis down")
}

func TestAllow_CanceledContextIsNotDegraded(t *testing.T) {
	fallback := &stubLimiter{allowed: true}
	l, err := New(Config{Primary: &stubLimiter{err: context.Canceled}, Fallback: fallback})
	require.NoError(t, err)

	_, err = l.Allow(context.Background(), "sync:u1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fallback.calls)
}

func TestClose_ClosesTiers(t *testing.T) {
	primary := &stubLimiter{}
	l, err := New(Config{Primary: primary, Fallback: memory.NewLimiter(1, time.Minute)})
	require.NoError(t, err)

	require.NoError(t, l.Close())
	assert.True(t, primary.closed)
}
