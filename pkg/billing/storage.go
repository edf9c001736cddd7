package billing

import "context"

// Store is the application datastore for subscription, payment and waitlist records
type Store interface {
	// UpsertSubscription inserts or replaces the row keyed by ProviderSubscriptionID.
	// The local ID and CreatedAt of an existing row are preserved. Returns the stored row.
	UpsertSubscription(ctx context.Context, sub *Subscription) (*Subscription, error)

	// GetSubscription returns a subscription by local id or ErrRecordNotFound
	GetSubscription(ctx context.Context, id string) (*Subscription, error)

	// GetSubscriptionByProviderID returns a subscription by provider id or ErrRecordNotFound
	GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error)

	// CurrentSubscription returns the user's newest active or trialing subscription
	// (by creation order) or ErrRecordNotFound. This is the only "current" selection rule.
	CurrentSubscription(ctx context.Context, userID string) (*Subscription, error)

	// LatestSubscription returns the user's newest subscription of any status or ErrRecordNotFound
	LatestSubscription(ctx context.Context, userID string) (*Subscription, error)

	// UpdateSubscription applies a partial update by provider id or returns ErrRecordNotFound
	UpdateSubscription(ctx context.Context, providerSubscriptionID string, upd SubscriptionUpdate) (*Subscription, error)

	// PaymentExists reports whether a payment row exists for the payment intent
	PaymentExists(ctx context.Context, paymentIntentID string) (bool, error)

	// InsertPayment records a payment. Returns ErrDuplicatePayment if the intent is already recorded.
	InsertPayment(ctx context.Context, p *Payment) error

	// GetPaymentByIntentID returns a payment or ErrRecordNotFound
	GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*Payment, error)

	// GetWaitlistEntry returns the entry for a normalized email or ErrRecordNotFound
	GetWaitlistEntry(ctx context.Context, email string) (*WaitlistEntry, error)
}

// Limiter throttles operations per key
type Limiter interface {
	// Allow reports whether one more operation for key fits in the current window
	Allow(ctx context.Context, key string) (bool, error)
}
