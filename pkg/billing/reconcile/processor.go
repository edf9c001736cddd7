package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// invoiceLookupLimit bounds the invoice listing used to recover a payment intent
// missing from a webhook payload
const invoiceLookupLimit = 10

// Processor applies verified webhook events through the Engine.
// It implements billing.EventProcessor.
type Processor struct {
	engine  *Engine
	gateway billing.Gateway
	store   billing.Store
	logger  billing.Logger
}

// NewProcessor creates an event processor
func NewProcessor(engine *Engine, gateway billing.Gateway) (*Processor, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine is required", billing.ErrConfiguration)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", billing.ErrConfiguration)
	}
	return &Processor{
		engine:  engine,
		gateway: gateway,
		store:   engine.store,
		logger:  engine.logger,
	}, nil
}

// CheckoutCompleted reconciles the subscription a completed checkout created
func (p *Processor) CheckoutCompleted(ctx context.Context, c *billing.CheckoutCompletion) error {
	userID := c.Metadata[billing.MetadataUserID]
	if userID == "" {
		p.logger.Warn("checkout session has no user id, skipping", billing.F("session_id", c.SessionID))
		return nil
	}
	if c.SubscriptionID == "" {
		p.logger.Warn("checkout session has no subscription, skipping", billing.F("session_id", c.SessionID))
		return nil
	}

	sub, err := p.gateway.RetrieveSubscription(ctx, c.SubscriptionID)
	if err != nil {
		return fmt.Errorf("checkout %s: %w", c.SessionID, err)
	}
	if sub.CustomerID == "" {
		sub.CustomerID = c.CustomerID
	}

	_, err = p.engine.ReconcileSubscription(ctx, userID, sub)
	return err
}

// SubscriptionChanged reconciles a created or updated subscription
func (p *Processor) SubscriptionChanged(ctx context.Context, sub *billing.ProviderSubscription) error {
	_, err := p.engine.ReconcileSubscription(ctx, sub.Metadata[billing.MetadataUserID], sub)
	return err
}

// SubscriptionDeleted marks the local row terminally canceled
func (p *Processor) SubscriptionDeleted(ctx context.Context, sub *billing.ProviderSubscription) error {
	canceledAt := p.engine.Now()
	if sub.CanceledAt != 0 {
		canceledAt = fromEpoch(sub.CanceledAt)
	}

	_, err := p.engine.MarkCanceled(ctx, sub.ID, canceledAt, true)
	if errors.Is(err, billing.ErrRecordNotFound) {
		p.logger.Warn("deleted subscription not found locally, skipping", billing.F("stripe_subscription_id", sub.ID))
		return nil
	}
	return err
}

// InvoicePaymentSucceeded records the payment for a subscription invoice
func (p *Processor) InvoicePaymentSucceeded(ctx context.Context, inv *billing.ProviderInvoice) error {
	if inv.SubscriptionID == "" {
		p.logger.Debug("invoice is not for a subscription, skipping", billing.F("invoice_id", inv.ID))
		return nil
	}

	local, err := p.store.GetSubscriptionByProviderID(ctx, inv.SubscriptionID)
	if errors.Is(err, billing.ErrRecordNotFound) {
		p.logger.Warn("invoice subscription not found locally, skipping payment",
			billing.F("invoice_id", inv.ID),
			billing.F("stripe_subscription_id", inv.SubscriptionID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("invoice %s: %w", inv.ID, err)
	}

	if inv.PaymentIntentID == "" {
		inv = p.lookupInvoice(ctx, inv, local.ProviderCustomerID)
	}

	_, err = p.engine.ReconcilePayment(ctx, local.ID, inv)
	return err
}

// lookupInvoice re-reads an invoice through the API, where payments are expanded.
// The webhook copy is returned unchanged when the lookup fails or finds nothing.
func (p *Processor) lookupInvoice(ctx context.Context, inv *billing.ProviderInvoice, fallbackCustomerID string) *billing.ProviderInvoice {
	customerID := inv.CustomerID
	if customerID == "" {
		customerID = fallbackCustomerID
	}
	if customerID == "" {
		return inv
	}

	invoices, err := p.gateway.ListInvoices(ctx, customerID, invoiceLookupLimit)
	if err != nil {
		p.logger.Warn("failed to look up invoice payment intent",
			billing.F("invoice_id", inv.ID),
			billing.F("error", err),
		)
		return inv
	}
	for i := range invoices {
		if invoices[i].ID == inv.ID && invoices[i].PaymentIntentID != "" {
			return &invoices[i]
		}
	}
	return inv
}

// InvoicePaymentFailed marks the subscription past due. No payment row is written.
func (p *Processor) InvoicePaymentFailed(ctx context.Context, inv *billing.ProviderInvoice) error {
	if inv.SubscriptionID == "" {
		return nil
	}
	_, err := p.engine.MarkPastDue(ctx, inv.SubscriptionID)
	return err
}

var _ billing.EventProcessor = (*Processor)(nil)
