package billing

import "context"

// Gateway is the typed surface of the payment provider consumed by this service.
// Implementations perform no retries; every failure is a *ProviderError.
type Gateway interface {
	// CreateCheckoutSession requests a hosted payment page for a new subscription
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// RetrieveSubscription fetches one subscription by provider id
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// ListInvoices returns up to limit of the customer's most recent invoices
	ListInvoices(ctx context.Context, customerID string, limit int) ([]ProviderInvoice, error)

	// CancelSubscription cancels now when immediate is true, otherwise at period end
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*ProviderSubscription, error)

	// CreatePortalSession requests a hosted self-service page for the customer
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)

	// ListCustomersByEmail returns customers registered under the email
	ListCustomersByEmail(ctx context.Context, email string) ([]ProviderCustomer, error)

	// ListSubscriptionsByCustomer returns the customer's subscriptions of any status
	ListSubscriptionsByCustomer(ctx context.Context, customerID string) ([]ProviderSubscription, error)
}

// ProviderSubscription is the provider-neutral shape of a provider subscription.
// Timestamps are provider epoch seconds; zero means absent.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	Metadata           map[string]string
	Items              []ProviderLineItem
	TrialStart         int64
	TrialEnd           int64
	CurrentPeriodStart int64
	CurrentPeriodEnd   int64
	CancelAtPeriodEnd  bool
	CanceledAt         int64
	Created            int64
}

// ProviderLineItem is one billing line of a subscription
type ProviderLineItem struct {
	PriceID    string
	UnitAmount int64
	Currency   string
	Interval   string
}

// ProviderInvoice is the provider-neutral shape of an invoice
type ProviderInvoice struct {
	ID              string
	CustomerID      string
	SubscriptionID  string
	Status          string
	PaymentIntentID string
	AmountPaid      int64
	Currency        string
	HostedPDFURL    string
	PaidAt          int64
	Created         int64
}

// InvoiceStatusPaid is the provider invoice status that produces a payment record
const InvoiceStatusPaid = "paid"

// ProviderCustomer is a provider customer record
type ProviderCustomer struct {
	ID    string
	Email string
}

// CheckoutRequest describes a hosted checkout for a single monthly recurring line item
type CheckoutRequest struct {
	Email       string
	PriceAmount int64
	Currency    string
	ProductName string
	TrialDays   int64
	SuccessURL  string
	CancelURL   string
	// Metadata is attached to both the session and the resulting subscription
	Metadata map[string]string
}

// CheckoutSession is a created hosted checkout
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is a created billing portal session
type PortalSession struct {
	URL string
}
