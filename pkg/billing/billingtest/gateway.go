// Package billingtest provides in-memory fakes of billing collaborators for tests.
package billingtest

import (
	"context"
	"sync"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Gateway is a scripted billing.Gateway. Fields set the canned responses;
// Calls records operation names in order.
type Gateway struct {
	mu sync.Mutex

	// Subscriptions is keyed by provider id, Customers by email,
	// CustomerSubs and Invoices by customer id
	Subscriptions map[string]*billing.ProviderSubscription
	Customers     map[string][]billing.ProviderCustomer
	CustomerSubs  map[string][]billing.ProviderSubscription
	Invoices      map[string][]billing.ProviderInvoice

	CheckoutURL string
	PortalURL   string

	// Err, when set, is returned by every operation named in FailOps (all operations if FailOps is empty)
	Err     error
	FailOps map[string]bool

	Calls            []string
	CheckoutRequests []billing.CheckoutRequest
	PortalRequests   []PortalRequest
	Cancellations    []Cancellation
}

// PortalRequest is one recorded CreatePortalSession call
type PortalRequest struct {
	CustomerID string
	ReturnURL  string
}

// Cancellation is one recorded CancelSubscription call
type Cancellation struct {
	SubscriptionID string
	Immediate      bool
}

// NewGateway returns an empty fake gateway
func NewGateway() *Gateway {
	return &Gateway{
		Subscriptions: make(map[string]*billing.ProviderSubscription),
		Customers:     make(map[string][]billing.ProviderCustomer),
		CustomerSubs:  make(map[string][]billing.ProviderSubscription),
		Invoices:      make(map[string][]billing.ProviderInvoice),
		CheckoutURL:   "https://checkout.stripe.test/session",
		PortalURL:     "https://billing.stripe.test/portal",
	}
}

func (g *Gateway) call(op string) error {
	g.Calls = append(g.Calls, op)
	if g.Err != nil && (len(g.FailOps) == 0 || g.FailOps[op]) {
		return &billing.ProviderError{Op: op, Message: g.Err.Error(), Err: g.Err}
	}
	return nil
}

// CalledOps returns a copy of the recorded operation names
func (g *Gateway) CalledOps() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.Calls...)
}

func (g *Gateway) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("create_checkout_session"); err != nil {
		return nil, err
	}
	g.CheckoutRequests = append(g.CheckoutRequests, req)
	return &billing.CheckoutSession{ID: "cs_test", URL: g.CheckoutURL}, nil
}

func (g *Gateway) RetrieveSubscription(_ context.Context, id string) (*billing.ProviderSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("retrieve_subscription"); err != nil {
		return nil, err
	}
	sub, ok := g.Subscriptions[id]
	if !ok {
		return nil, &billing.ProviderError{Op: "retrieve_subscription", Message: "No such subscription: " + id}
	}
	out := *sub
	return &out, nil
}

func (g *Gateway) ListInvoices(_ context.Context, customerID string, limit int) ([]billing.ProviderInvoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("list_invoices"); err != nil {
		return nil, err
	}
	invoices := g.Invoices[customerID]
	if limit > 0 && len(invoices) > limit {
		invoices = invoices[:limit]
	}
	return append([]billing.ProviderInvoice(nil), invoices...), nil
}

func (g *Gateway) CancelSubscription(_ context.Context, id string, immediate bool) (*billing.ProviderSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("cancel_subscription"); err != nil {
		return nil, err
	}
	g.Cancellations = append(g.Cancellations, Cancellation{SubscriptionID: id, Immediate: immediate})

	sub, ok := g.Subscriptions[id]
	if !ok {
		sub = &billing.ProviderSubscription{ID: id, Status: string(billing.StatusActive)}
	}
	out := *sub
	if immediate {
		out.Status = string(billing.StatusCanceled)
	} else {
		out.CancelAtPeriodEnd = true
	}
	return &out, nil
}

func (g *Gateway) CreatePortalSession(_ context.Context, customerID, returnURL string) (*billing.PortalSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("create_portal_session"); err != nil {
		return nil, err
	}
	g.PortalRequests = append(g.PortalRequests, PortalRequest{CustomerID: customerID, ReturnURL: returnURL})
	return &billing.PortalSession{URL: g.PortalURL}, nil
}

func (g *Gateway) ListCustomersByEmail(_ context.Context, email string) ([]billing.ProviderCustomer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("list_customers"); err != nil {
		return nil, err
	}
	return append([]billing.ProviderCustomer(nil), g.Customers[email]...), nil
}

func (g *Gateway) ListSubscriptionsByCustomer(_ context.Context, customerID string) ([]billing.ProviderSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.call("list_subscriptions"); err != nil {
		return nil, err
	}
	return append([]billing.ProviderSubscription(nil), g.CustomerSubs[customerID]...), nil
}

var _ billing.Gateway = (*Gateway)(nil)
