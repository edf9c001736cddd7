package billing

import (
	"context"
	"encoding/json"
	"time"
)

// Event is a verified webhook delivery. Only the verifier constructs it.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Raw     json.RawMessage
}

// CheckoutCompletion is the subset of a completed checkout session the reconciliation path needs
type CheckoutCompletion struct {
	SessionID      string
	SubscriptionID string
	CustomerID     string
	CustomerEmail  string
	Metadata       map[string]string
}

// EventProcessor applies verified provider events to local state.
// A returned error aborts the delivery so the provider redelivers it.
type EventProcessor interface {
	CheckoutCompleted(ctx context.Context, c *CheckoutCompletion) error
	SubscriptionChanged(ctx context.Context, sub *ProviderSubscription) error
	SubscriptionDeleted(ctx context.Context, sub *ProviderSubscription) error
	InvoicePaymentSucceeded(ctx context.Context, inv *ProviderInvoice) error
	InvoicePaymentFailed(ctx context.Context, inv *ProviderInvoice) error
}

// Metadata keys written at checkout creation and read back from webhook payloads
const (
	MetadataUserID      = "user_id"
	MetadataUserEmail   = "user_email"
	MetadataIsEarlyBird = "is_early_bird"
	MetadataPriceAmount = "price_amount"
)
