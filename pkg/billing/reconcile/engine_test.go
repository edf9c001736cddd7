package reconcile

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

var (
	testNow        = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	testTrialEnd   = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	testPeriodEnd  = testTrialEnd.Unix()
	testPeriodFrom = testNow.Unix()
)

func newTestEngine(t *testing.T, store billing.Store) *Engine {
	t.Helper()
	e, err := NewEngine(Config{Store: store, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return e
}

func providerSub(id, status string) *billing.ProviderSubscription {
	return &billing.ProviderSubscription{
		ID:                 id,
		CustomerID:         "cus_1",
		Status:             status,
		Metadata:           map[string]string{billing.MetadataUserID: "u1"},
		Items:              []billing.ProviderLineItem{{PriceID: "price_1", UnitAmount: 4400, Currency: "cad", Interval: "month"}},
		TrialStart:         testPeriodFrom,
		TrialEnd:           testPeriodEnd,
		CurrentPeriodStart: testPeriodFrom,
		CurrentPeriodEnd:   testPeriodEnd,
		Created:            testPeriodFrom,
	}
}

func paidInvoice(intentID string) *billing.ProviderInvoice {
	return &billing.ProviderInvoice{
		ID:              "in_" + intentID,
		CustomerID:      "cus_1",
		SubscriptionID:  "sub_1",
		Status:          billing.InvoiceStatusPaid,
		PaymentIntentID: intentID,
		AmountPaid:      4400,
		Currency:        "cad",
		PaidAt:          testPeriodEnd,
	}
}

func TestNewEngine_RequiresStore(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.True(t, errors.Is(err, billing.ErrConfiguration))
}

func TestReconcileSubscription_Maps(t *testing.T) {
	store := memory.New()
	e := newTestEngine(t, store)

	sub, err := e.ReconcileSubscription(context.Background(), "u1", providerSub("sub_1", "trialing"))
	require.NoError(t, err)

	assert.Equal(t, "u1", sub.UserID)
	assert.Equal(t, "sub_1", sub.ProviderSubscriptionID)
	assert.Equal(t, "cus_1", sub.ProviderCustomerID)
	assert.Equal(t, billing.StatusTrialing, sub.Status)
	assert.Equal(t, "family", sub.PlanType)
	assert.Equal(t, int64(4400), sub.PriceAmount)
	assert.Equal(t, "CAD", sub.Currency)
	require.NotNil(t, sub.TrialEnd)
	assert.True(t, sub.TrialEnd.Equal(testTrialEnd))
	assert.True(t, sub.CurrentPeriodEnd.Equal(testTrialEnd))
	assert.Nil(t, sub.CanceledAt)
}

func TestReconcileSubscription_Idempotent(t *testing.T) {
	store := memory.New()
	e := newTestEngine(t, store)
	ctx := context.Background()
	ps := providerSub("sub_1", "active")

	first, err := e.ReconcileSubscription(ctx, "u1", ps)
	require.NoError(t, err)
	second, err := e.ReconcileSubscription(ctx, "u1", ps)
	require.NoError(t, err)

	rows := store.Subscriptions()
	require.Len(t, rows, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.PriceAmount, second.PriceAmount)
	assert.Equal(t, first.CurrentPeriodEnd, second.CurrentPeriodEnd)
}

func TestReconcileSubscription_LastWriteWins(t *testing.T) {
	store := memory.New()
	e := newTestEngine(t, store)
	ctx := context.Background()

	newer := providerSub("sub_1", "active")
	older := providerSub("sub_1", "trialing")

	_, err := e.ReconcileSubscription(ctx, "u1", newer)
	require.NoError(t, err)
	// A delayed delivery of the older object overwrites the newer state
	_, err = e.ReconcileSubscription(ctx, "u1", older)
	require.NoError(t, err)

	rows := store.Subscriptions()
	require.Len(t, rows, 1)
	assert.Equal(t, billing.StatusTrialing, rows[0].Status)
}

func TestReconcileSubscription_NoUserIsNoop(t *testing.T) {
	store := memory.New()
	e := newTestEngine(t, store)

	sub, err := e.ReconcileSubscription(context.Background(), "", providerSub("sub_1", "active"))
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.Empty(t, store.Subscriptions())
}

func TestReconcileSubscription_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(ps *billing.ProviderSubscription)
		wantErr error
	}{
		{"unknown status", func(ps *billing.ProviderSubscription) { ps.Status = "on_hold" }, billing.ErrUnknownStatus},
		{"missing period end", func(ps *billing.ProviderSubscription) { ps.CurrentPeriodEnd = 0 }, billing.ErrMissingPeriodEnd},
		{"missing id", func(ps *billing.ProviderSubscription) { ps.ID = "" }, billing.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			e := newTestEngine(t, store)
			ps := providerSub("sub_1", "active")
			tt.mutate(ps)

			_, err := e.ReconcileSubscription(context.Background(), "u1", ps)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Empty(t, store.Subscriptions())
		})
	}
}

func TestReconcileSubscription_Defaults(t *testing.T) {
	store := memory.New()
	e := newTestEngine(t, store)

	ps := providerSub("sub_1", "active")
	ps.CurrentPeriodStart = 0
	ps.Created = testPeriodFrom - 3600
	ps.TrialStart, ps.TrialEnd = 0, 0
	ps.Items = []billing.ProviderLineItem{{UnitAmount: 6200}}

	sub, err := e.ReconcileSubscription(context.Background(), "u1", ps)
	require.NoError(t, err)

	assert.True(t, sub.CurrentPeriodStart.Equal(testNow.Add(-time.Hour)), "period start falls back to creation time")
	assert.Equal(t, "CAD", sub.Currency)
	assert.Equal(t, int64(6200), sub.PriceAmount)
	assert.Nil(t, sub.TrialStart)
	assert.Nil(t, sub.TrialEnd)
}

func TestReconcileSubscription_NoItems(t *testing.T) {
	store := memory.New()
	e, err := NewEngine(Config{Store: store, DefaultCurrency: "usd", PlanType: "solo"})
	require.NoError(t, err)

	ps := providerSub("sub_1", "active")
	ps.Items = nil

	sub, err := e.ReconcileSubscription(context.Background(), "u1", ps)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sub.PriceAmount)
	assert.Equal(t, "USD", sub.Currency)
	assert.Equal(t, "solo", sub.PlanType)
}

func TestReconcilePayment_RecordsOnce(t *testing.T) {
	store := memory.New()
	e := newTestEngine(t, store)
	ctx := context.Background()

	local, err := e.ReconcileSubscription(ctx, "u1", providerSub("sub_1", "active"))
	require.NoError(t, err)

	p, err := e.ReconcilePayment(ctx, local.ID, paidInvoice("pi_1"))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, local.ID, p.SubscriptionID)
	assert.Equal(t, int64(4400), p.Amount)
	assert.Equal(t, "CAD", p.Currency)
	assert.Equal(t, billing.PaymentSucceeded, p.Status)
	require.NotNil(t, p.PaidAt)
	assert.True(t, p.PaidAt.Equal(testTrialEnd))

	again, err := e.ReconcilePayment(ctx, local.ID, paidInvoice("pi_1"))
	require.NoError(t, err)
	assert.Nil(t, again)

	assert.Len(t, store.Payments(), 1)
}

func TestReconcilePayment_Skips(t *testing.T) {
	store := memory.New()
	e := newTestEngine(t, store)
	ctx := context.Background()

	local, err := e.ReconcileSubscription(ctx, "u1", providerSub("sub_1", "active"))
	require.NoError(t, err)

	open := paidInvoice("pi_1")
	open.Status = "open"
	noIntent := paidInvoice("")

	for _, inv := range []*billing.ProviderInvoice{open, noIntent, nil} {
		p, err := e.ReconcilePayment(ctx, local.ID, inv)
		require.NoError(t, err)
		assert.Nil(t, p)
	}
	assert.Empty(t, store.Payments())
}

// racingStore hides existing payments from the pre-check so the insert hits the unique constraint
type racingStore struct {
	*memory.Store
}

func (s racingStore) PaymentExists(context.Context, string) (bool, error) {
	return false, nil
}

func TestReconcilePayment_ConcurrentDuplicate(t *testing.T) {
	store := racingStore{memory.New()}
	e := newTestEngine(t, store)
	ctx := context.Background()

	local, err := e.ReconcileSubscription(ctx, "u1", providerSub("sub_1", "active"))
	require.NoError(t, err)

	_, err = e.ReconcilePayment(ctx, local.ID, paidInvoice("pi_1"))
	require.NoError(t, err)

	p, err := e.ReconcilePayment(ctx, local.ID, paidInvoice("pi_1"))
	require.NoError(t, err, "a duplicate insert counts as already recorded")
	assert.Nil(t, p)
	assert.Len(t, store.Payments(), 1)
}

func TestMarkCanceled(t *testing.T) {
	ctx := context.Background()
	canceledAt := testNow.Add(24 * time.Hour)

	t.Run("terminal", func(t *testing.T) {
		store := memory.New()
		e := newTestEngine(t, store)
		_, err := e.ReconcileSubscription(ctx, "u1", providerSub("sub_1", "active"))
		require.NoError(t, err)

		sub, err := e.MarkCanceled(ctx, "sub_1", canceledAt, true)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, sub.Status)
		require.NotNil(t, sub.CanceledAt)
		assert.True(t, sub.CanceledAt.Equal(canceledAt))
	})

	t.Run("at period end", func(t *testing.T) {
		store := memory.New()
		e := newTestEngine(t, store)
		_, err := e.ReconcileSubscription(ctx, "u1", providerSub("sub_1", "active"))
		require.NoError(t, err)

		sub, err := e.MarkCanceled(ctx, "sub_1", canceledAt, false)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.Nil(t, sub.CanceledAt)
	})

	t.Run("missing", func(t *testing.T) {
		e := newTestEngine(t, memory.New())
		_, err := e.MarkCanceled(ctx, "sub_missing", canceledAt, true)
		assert.True(t, errors.Is(err, billing.ErrRecordNotFound))
	})
}

func TestMarkPastDue(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := newTestEngine(t, store)

	sub, err := e.MarkPastDue(ctx, "sub_missing")
	require.NoError(t, err)
	assert.Nil(t, sub)

	_, err = e.ReconcileSubscription(ctx, "u1", providerSub("sub_1", "active"))
	require.NoError(t, err)

	sub, err = e.MarkPastDue(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, sub.Status)
}
