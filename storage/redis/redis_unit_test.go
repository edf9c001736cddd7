package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		client  redis.UniversalClient
		config  Config
		wantErr bool
	}{
		{
			name:    "nil client",
			client:  nil,
			config:  DefaultConfig(),
			wantErr: true,
		},
		{
			name:    "defaults applied",
			client:  redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:  Config{},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.client, tt.config)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, billing.ErrConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "billingsync:ratelimit:", l.config.KeyPrefix)
			assert.Equal(t, 5, l.config.Limit)
			assert.Equal(t, time.Minute, l.config.Window)
			assert.Equal(t, "billingsync:ratelimit:sync:u1", l.key("sync:u1"))
		})
	}
}

func TestNewFromURL_Invalid(t *testing.T) {
	_, err := NewFromURL("not a url", DefaultConfig())
	assert.True(t, errors.Is(err, billing.ErrConfiguration))
}
