// Package stripe implements the billing provider surface on top of stripe-go:
// the Gateway for API calls, the Verifier for webhook signatures and the
// WebhookHandler that turns verified deliveries into EventProcessor calls.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	recurringInterval  = "month"
	statusAll          = "all"
)

// Config holds Gateway configuration
type Config struct {
	// APIKey is the Stripe secret key
	APIKey string

	// HTTPClient overrides the transport (default: 10s timeout)
	HTTPClient *http.Client

	// BaseURL points the SDK at a different API host (tests only)
	BaseURL string

	Metrics billing.Metrics
	Logger  billing.Logger
}

// Gateway implements billing.Gateway using the Stripe API
type Gateway struct {
	client  *stripe.Client
	metrics billing.Metrics
	logger  billing.Logger
}

// NewGateway creates a new Stripe gateway. SDK network retries are disabled.
func NewGateway(config Config) (*Gateway, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: stripe API key is required", billing.ErrConfiguration)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if config.BaseURL != "" {
		backendConfig.URL = stripe.String(config.BaseURL)
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	return &Gateway{
		client:  stripe.NewClient(apiKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendConfig))),
		metrics: metrics,
		logger:  logger,
	}, nil
}

// CreateCheckoutSession implements billing.Gateway
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	const op, endpoint = "create_checkout_session", "/checkout/sessions"

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
					Recurring: &stripe.CheckoutSessionCreateLineItemPriceDataRecurringParams{
						Interval: stripe.String(recurringInterval),
					},
					UnitAmount: stripe.Int64(req.PriceAmount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: copyMetadata(req.Metadata),
		},
	}
	params.Metadata = copyMetadata(req.Metadata)
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(req.TrialDays)
	}
	if userID := req.Metadata[billing.MetadataUserID]; userID != "" {
		params.ClientReferenceID = stripe.String(userID)
	}

	start := time.Now()
	session, err := g.client.V1CheckoutSessions.Create(ctx, params)
	g.record(endpoint, start, err)
	if err != nil {
		return nil, providerError(op, err)
	}
	return &billing.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// RetrieveSubscription implements billing.Gateway
func (g *Gateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*billing.ProviderSubscription, error) {
	const op, endpoint = "retrieve_subscription", "/subscriptions/retrieve"

	start := time.Now()
	sub, err := g.client.V1Subscriptions.Retrieve(ctx, subscriptionID, &stripe.SubscriptionRetrieveParams{})
	g.record(endpoint, start, err)
	if err != nil {
		return nil, providerError(op, err)
	}
	return mapSubscription(sub), nil
}

// ListInvoices implements billing.Gateway
func (g *Gateway) ListInvoices(ctx context.Context, customerID string, limit int) ([]billing.ProviderInvoice, error) {
	const op, endpoint = "list_invoices", "/invoices/list"

	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	if limit > 0 {
		params.Limit = stripe.Int64(int64(limit))
	}
	params.AddExpand("data.payments")

	start := time.Now()
	var invoices []billing.ProviderInvoice
	for inv, err := range g.client.V1Invoices.List(ctx, params) {
		if err != nil {
			g.record(endpoint, start, err)
			return nil, providerError(op, err)
		}
		invoices = append(invoices, mapInvoice(inv))
		if limit > 0 && len(invoices) >= limit {
			break
		}
	}
	g.record(endpoint, start, nil)
	return invoices, nil
}

// CancelSubscription implements billing.Gateway
func (g *Gateway) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*billing.ProviderSubscription, error) {
	const op = "cancel_subscription"

	var (
		sub      *stripe.Subscription
		err      error
		endpoint string
	)
	start := time.Now()
	if immediate {
		endpoint = "/subscriptions/cancel"
		sub, err = g.client.V1Subscriptions.Cancel(ctx, subscriptionID, &stripe.SubscriptionCancelParams{})
	} else {
		endpoint = "/subscriptions/update"
		sub, err = g.client.V1Subscriptions.Update(ctx, subscriptionID, &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
	}
	g.record(endpoint, start, err)
	if err != nil {
		return nil, providerError(op, err)
	}
	return mapSubscription(sub), nil
}

// CreatePortalSession implements billing.Gateway
func (g *Gateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error) {
	const op, endpoint = "create_portal_session", "/billing_portal/sessions"

	start := time.Now()
	session, err := g.client.V1BillingPortalSessions.Create(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	g.record(endpoint, start, err)
	if err != nil {
		return nil, providerError(op, err)
	}
	return &billing.PortalSession{URL: session.URL}, nil
}

// ListCustomersByEmail implements billing.Gateway
func (g *Gateway) ListCustomersByEmail(ctx context.Context, email string) ([]billing.ProviderCustomer, error) {
	const op, endpoint = "list_customers", "/customers/list"

	params := &stripe.CustomerListParams{Email: stripe.String(email)}

	start := time.Now()
	var customers []billing.ProviderCustomer
	for cust, err := range g.client.V1Customers.List(ctx, params) {
		if err != nil {
			g.record(endpoint, start, err)
			return nil, providerError(op, err)
		}
		customers = append(customers, billing.ProviderCustomer{ID: cust.ID, Email: cust.Email})
	}
	g.record(endpoint, start, nil)
	return customers, nil
}

// ListSubscriptionsByCustomer implements billing.Gateway
func (g *Gateway) ListSubscriptionsByCustomer(ctx context.Context, customerID string) ([]billing.ProviderSubscription, error) {
	const op, endpoint = "list_subscriptions", "/subscriptions/list"

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(statusAll),
	}

	start := time.Now()
	var subs []billing.ProviderSubscription
	for sub, err := range g.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			g.record(endpoint, start, err)
			return nil, providerError(op, err)
		}
		subs = append(subs, *mapSubscription(sub))
	}
	g.record(endpoint, start, nil)
	return subs, nil
}

func (g *Gateway) record(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		g.logger.Warn("stripe API call failed",
			billing.F("endpoint", endpoint),
			billing.F("error", err),
		)
	}
	g.metrics.RecordAPICall(billing.ProviderName, endpoint, status)
	g.metrics.RecordAPICallDuration(billing.ProviderName, endpoint, time.Since(start))
}

// providerError wraps an SDK failure, keeping Stripe's own message when there is one
func providerError(op string, err error) error {
	pe := &billing.ProviderError{Op: op, Err: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		pe.Message = stripeErr.Msg
	} else {
		pe.Message = err.Error()
	}
	return pe
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ billing.Gateway = (*Gateway)(nil)
