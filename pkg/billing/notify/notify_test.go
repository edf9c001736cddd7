package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/billingsync/pkg/billing"
	zerologadapter "github.com/mihaimyh/billingsync/pkg/billing/logger/zerolog"
)

func TestLogNotifier_SubscriptionCanceled(t *testing.T) {
	var output bytes.Buffer
	n := NewLogNotifier(zerologadapter.NewLogger(zerolog.New(&output)))

	sub := &billing.Subscription{
		ProviderSubscriptionID: "sub_1",
		CurrentPeriodEnd:       time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, n.SubscriptionCanceled("u1", sub, false))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	assert.Equal(t, "cancellation notice", entry["message"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "sub_1", entry["stripe_subscription_id"])
	assert.Equal(t, false, entry["immediate"])
	assert.Equal(t, "2025-03-01T00:00:00Z", entry["access_until"])
}

func TestLogNotifier_Immediate(t *testing.T) {
	var output bytes.Buffer
	n := NewLogNotifier(zerologadapter.NewLogger(zerolog.New(&output)))

	require.NoError(t, n.SubscriptionCanceled("u1", &billing.Subscription{ProviderSubscriptionID: "sub_1"}, true))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	assert.Equal(t, true, entry["immediate"])
	assert.NotContains(t, entry, "access_until")
}

func TestLogNotifier_RequiresSubscription(t *testing.T) {
	err := NewLogNotifier(nil).SubscriptionCanceled("u1", nil, true)
	assert.True(t, errors.Is(err, billing.ErrInvalidInput))
}
