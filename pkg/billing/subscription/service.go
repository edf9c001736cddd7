// Package subscription implements the user-facing subscription commands:
// checkout, cancel, billing portal, manual sync and receipts.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/billing/pricing"
	"github.com/mihaimyh/billingsync/pkg/billing/reconcile"
)

const (
	// syncInvoiceLimit is how many recent invoices a manual sync reconciles
	syncInvoiceLimit = 10

	// receiptInvoiceLimit bounds the invoice search behind a receipt lookup
	receiptInvoiceLimit = 100

	defaultCurrency    = "CAD"
	defaultProductName = "Family Plan"
)

// Config holds Service dependencies
type Config struct {
	Store    billing.Store
	Gateway  billing.Gateway
	Engine   *reconcile.Engine
	Notifier billing.Notifier
	Metrics  billing.Metrics
	Logger   billing.Logger

	// AppURL is the public base URL used for checkout and portal redirects
	AppURL string

	// Currency is the checkout currency (default: CAD)
	Currency string

	// ProductName is shown on the hosted checkout page
	ProductName string

	// Now overrides the clock (tests)
	Now func() time.Time
}

// Service runs subscription commands for an authenticated user
type Service struct {
	store       billing.Store
	gateway     billing.Gateway
	engine      *reconcile.Engine
	notifier    billing.Notifier
	metrics     billing.Metrics
	logger      billing.Logger
	appURL      string
	currency    string
	productName string
	now         func() time.Time
}

// Receipt points at the hosted PDF of the invoice behind a payment
type Receipt struct {
	URL       string    `json:"url"`
	InvoiceID string    `json:"invoice_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Date      time.Time `json:"date"`
}

// NewService creates a subscription command service
func NewService(config Config) (*Service, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("%w: store is required", billing.ErrConfiguration)
	}
	if config.Gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", billing.ErrConfiguration)
	}
	if config.Engine == nil {
		return nil, fmt.Errorf("%w: reconciliation engine is required", billing.ErrConfiguration)
	}
	appURL := strings.TrimRight(strings.TrimSpace(config.AppURL), "/")
	if appURL == "" {
		return nil, fmt.Errorf("%w: app URL is required", billing.ErrConfiguration)
	}

	s := &Service{
		store:       config.Store,
		gateway:     config.Gateway,
		engine:      config.Engine,
		notifier:    config.Notifier,
		metrics:     config.Metrics,
		logger:      config.Logger,
		appURL:      appURL,
		currency:    strings.ToUpper(strings.TrimSpace(config.Currency)),
		productName: strings.TrimSpace(config.ProductName),
		now:         config.Now,
	}
	if s.metrics == nil {
		s.metrics = &billing.NoopMetrics{}
	}
	if s.logger == nil {
		s.logger = &billing.NoopLogger{}
	}
	if s.currency == "" {
		s.currency = defaultCurrency
	}
	if s.productName == "" {
		s.productName = defaultProductName
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// CreateCheckout starts a hosted checkout priced by the caller's waitlist eligibility
func (s *Service) CreateCheckout(ctx context.Context, userID, email string) (*billing.CheckoutSession, error) {
	email = billing.NormalizeEmail(email)
	if userID == "" || email == "" {
		return nil, fmt.Errorf("%w: user id and email are required", billing.ErrInvalidInput)
	}

	earlyBird := false
	entry, err := s.store.GetWaitlistEntry(ctx, email)
	switch {
	case err == nil:
		earlyBird = entry.EarlyBird
	case errors.Is(err, billing.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("failed to load waitlist entry: %w", err)
	}

	amount := pricing.PriceForEligibility(earlyBird)
	session, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		Email:       email,
		PriceAmount: amount,
		Currency:    s.currency,
		ProductName: s.productName,
		TrialDays:   pricing.TrialDays(s.now()),
		SuccessURL:  s.appURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.appURL + "/checkout/cancel",
		Metadata: map[string]string{
			billing.MetadataUserID:      userID,
			billing.MetadataUserEmail:   email,
			billing.MetadataIsEarlyBird: strconv.FormatBool(earlyBird),
			billing.MetadataPriceAmount: strconv.FormatInt(amount, 10),
		},
	})
	if err != nil {
		return nil, err
	}
	if session.URL == "" {
		return nil, &billing.ProviderError{Op: "create_checkout_session", Message: "session has no URL"}
	}

	s.logger.Info("checkout session created",
		billing.F("user_id", userID),
		billing.F("early_bird", earlyBird),
		billing.F("price_amount", amount),
	)
	return session, nil
}

// Cancel cancels the caller's current subscription, immediately or at period end,
// and returns the updated local row.
func (s *Service) Cancel(ctx context.Context, userID string, immediate bool) (*billing.Subscription, error) {
	current, err := s.store.CurrentSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrRecordNotFound) {
			return nil, fmt.Errorf("no active subscription: %w", err)
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	if _, err := s.gateway.CancelSubscription(ctx, current.ProviderSubscriptionID, immediate); err != nil {
		return nil, err
	}

	sub, err := s.engine.MarkCanceled(ctx, current.ProviderSubscriptionID, s.now(), immediate)
	if err != nil {
		s.metrics.RecordInconsistency(billing.ProviderName, "cancel_subscription")
		s.logger.Error("subscription canceled with provider but local update failed",
			billing.F("inconsistency", true),
			billing.F("user_id", userID),
			billing.F("stripe_subscription_id", current.ProviderSubscriptionID),
			billing.F("error", err),
		)
		return nil, fmt.Errorf("%w: cancel %s: %v", billing.ErrInconsistency, current.ProviderSubscriptionID, err)
	}

	s.logger.Info("subscription canceled",
		billing.F("user_id", userID),
		billing.F("stripe_subscription_id", sub.ProviderSubscriptionID),
		billing.F("immediate", immediate),
	)

	if s.notifier != nil {
		if err := s.notifier.SubscriptionCanceled(userID, sub, immediate); err != nil {
			s.logger.Warn("failed to send cancellation notice",
				billing.F("user_id", userID),
				billing.F("error", err),
			)
		}
	}
	return sub, nil
}

// OpenBillingPortal returns a provider-hosted self-service URL for the caller's customer
func (s *Service) OpenBillingPortal(ctx context.Context, userID string) (string, error) {
	sub, err := s.store.LatestSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrRecordNotFound) {
			return "", fmt.Errorf("no subscription: %w", err)
		}
		return "", fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub.ProviderCustomerID == "" {
		return "", fmt.Errorf("subscription %s has no customer: %w", sub.ID, billing.ErrRecordNotFound)
	}

	session, err := s.gateway.CreatePortalSession(ctx, sub.ProviderCustomerID, s.appURL+"/dashboard")
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// SyncFromProvider pulls the caller's subscription and recent payments from the
// provider by email. Used when webhooks have not yet landed after checkout.
func (s *Service) SyncFromProvider(ctx context.Context, userID, email string) (*billing.Subscription, error) {
	start := s.now()
	sub, err := s.sync(ctx, userID, email)
	s.metrics.RecordSyncDuration(billing.ProviderName, s.now().Sub(start))

	switch {
	case err == nil:
		s.metrics.RecordSync(billing.ProviderName, "success")
	case errors.Is(err, billing.ErrRecordNotFound):
		s.metrics.RecordSync(billing.ProviderName, "not_found")
	default:
		s.metrics.RecordSync(billing.ProviderName, "error")
	}
	return sub, err
}

func (s *Service) sync(ctx context.Context, userID, email string) (*billing.Subscription, error) {
	email = billing.NormalizeEmail(email)
	if userID == "" || email == "" {
		return nil, fmt.Errorf("%w: user id and email are required", billing.ErrInvalidInput)
	}

	customers, err := s.gateway.ListCustomersByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, fmt.Errorf("no customer for %s: %w", email, billing.ErrRecordNotFound)
	}
	customerID := customers[0].ID

	subs, err := s.gateway.ListSubscriptionsByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("no subscription for customer %s: %w", customerID, billing.ErrRecordNotFound)
	}

	chosen := selectSubscription(subs)
	if chosen.CustomerID == "" {
		chosen.CustomerID = customerID
	}
	sub, err := s.engine.ReconcileSubscription(ctx, userID, chosen)
	if err != nil {
		return nil, err
	}

	invoices, err := s.gateway.ListInvoices(ctx, customerID, syncInvoiceLimit)
	if err != nil {
		s.logger.Warn("failed to list invoices during sync",
			billing.F("user_id", userID),
			billing.F("error", err),
		)
		return sub, nil
	}
	for i := range invoices {
		inv := &invoices[i]
		if inv.SubscriptionID != "" && inv.SubscriptionID != sub.ProviderSubscriptionID {
			continue
		}
		if _, err := s.engine.ReconcilePayment(ctx, sub.ID, inv); err != nil {
			s.logger.Warn("failed to reconcile invoice during sync",
				billing.F("invoice_id", inv.ID),
				billing.F("error", err),
			)
		}
	}

	s.logger.Info("subscription synced from provider",
		billing.F("user_id", userID),
		billing.F("stripe_subscription_id", sub.ProviderSubscriptionID),
		billing.F("status", string(sub.Status)),
	)
	return sub, nil
}

// selectSubscription prefers the first active or trialing subscription, else the first one
func selectSubscription(subs []billing.ProviderSubscription) *billing.ProviderSubscription {
	for i := range subs {
		if billing.Status(subs[i].Status).IsCurrent() {
			return &subs[i]
		}
	}
	return &subs[0]
}

// Receipt returns the hosted invoice PDF for one of the caller's payments.
// A payment owned by another user yields ErrForbidden.
func (s *Service) Receipt(ctx context.Context, userID, paymentIntentID string) (*Receipt, error) {
	if paymentIntentID == "" {
		return nil, fmt.Errorf("%w: payment intent id is required", billing.ErrInvalidInput)
	}

	payment, err := s.store.GetPaymentByIntentID(ctx, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", paymentIntentID, err)
	}
	sub, err := s.store.GetSubscription(ctx, payment.SubscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %s has no owner: %w", paymentIntentID, billing.ErrForbidden)
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub.UserID != userID {
		return nil, fmt.Errorf("payment %s: %w", paymentIntentID, billing.ErrForbidden)
	}
	if sub.ProviderCustomerID == "" {
		return nil, fmt.Errorf("subscription %s has no customer: %w", sub.ID, billing.ErrRecordNotFound)
	}

	invoices, err := s.gateway.ListInvoices(ctx, sub.ProviderCustomerID, receiptInvoiceLimit)
	if err != nil {
		return nil, err
	}
	for _, inv := range invoices {
		if inv.PaymentIntentID != paymentIntentID {
			continue
		}
		if inv.HostedPDFURL == "" {
			return nil, fmt.Errorf("invoice %s has no PDF: %w", inv.ID, billing.ErrRecordNotFound)
		}
		return &Receipt{
			URL:       inv.HostedPDFURL,
			InvoiceID: inv.ID,
			Amount:    inv.AmountPaid,
			Currency:  strings.ToUpper(inv.Currency),
			Date:      time.Unix(inv.Created, 0).UTC(),
		}, nil
	}
	return nil, fmt.Errorf("invoice for payment %s: %w", paymentIntentID, billing.ErrRecordNotFound)
}
