// Package reconcile converges local subscription and payment records with
// provider state. Every write is an upsert or a check-then-insert, so replaying
// the same provider object is safe.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

const (
	defaultCurrency = "CAD"
	defaultPlanType = "family"
)

// Config holds Engine dependencies
type Config struct {
	Store billing.Store

	// DefaultCurrency applies when a provider line item carries no currency (default: CAD)
	DefaultCurrency string

	// PlanType is written on every subscription row (default: family)
	PlanType string

	Metrics billing.Metrics
	Logger  billing.Logger

	// Now overrides the clock (tests)
	Now func() time.Time
}

// Engine writes provider state into the local store
type Engine struct {
	store           billing.Store
	defaultCurrency string
	planType        string
	metrics         billing.Metrics
	logger          billing.Logger
	now             func() time.Time
}

// NewEngine creates a reconciliation engine
func NewEngine(config Config) (*Engine, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("%w: store is required", billing.ErrConfiguration)
	}

	e := &Engine{
		store:           config.Store,
		defaultCurrency: strings.ToUpper(strings.TrimSpace(config.DefaultCurrency)),
		planType:        strings.TrimSpace(config.PlanType),
		metrics:         config.Metrics,
		logger:          config.Logger,
		now:             config.Now,
	}
	if e.defaultCurrency == "" {
		e.defaultCurrency = defaultCurrency
	}
	if e.planType == "" {
		e.planType = defaultPlanType
	}
	if e.metrics == nil {
		e.metrics = &billing.NoopMetrics{}
	}
	if e.logger == nil {
		e.logger = &billing.NoopLogger{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e, nil
}

// ReconcileSubscription upserts the local row for a provider subscription and returns it.
// An empty userID is a no-op returning (nil, nil). No ordering check is made
// against the stored row: the most recent write wins, even for an older provider object.
func (e *Engine) ReconcileSubscription(ctx context.Context, userID string, ps *billing.ProviderSubscription) (*billing.Subscription, error) {
	if ps == nil || ps.ID == "" {
		return nil, fmt.Errorf("%w: provider subscription has no id", billing.ErrInvalidInput)
	}
	if userID == "" {
		e.logger.Warn("subscription has no user id, skipping",
			billing.F("stripe_subscription_id", ps.ID),
		)
		return nil, nil
	}

	sub, err := e.toSubscription(userID, ps)
	if err != nil {
		return nil, err
	}

	previous, err := e.store.GetSubscriptionByProviderID(ctx, ps.ID)
	if err != nil && !errors.Is(err, billing.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load subscription %s: %w", ps.ID, err)
	}

	stored, err := e.store.UpsertSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription %s: %w", ps.ID, err)
	}

	from := ""
	if previous != nil {
		from = string(previous.Status)
	}
	if from != string(stored.Status) {
		e.metrics.RecordStatusChange(billing.ProviderName, from, string(stored.Status))
	}

	e.logger.Info("subscription reconciled",
		billing.F("user_id", userID),
		billing.F("stripe_subscription_id", ps.ID),
		billing.F("status", string(stored.Status)),
	)
	return stored, nil
}

func (e *Engine) toSubscription(userID string, ps *billing.ProviderSubscription) (*billing.Subscription, error) {
	status, err := billing.ParseStatus(ps.Status)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", ps.ID, err)
	}
	if ps.CurrentPeriodEnd == 0 {
		return nil, fmt.Errorf("subscription %s: %w", ps.ID, billing.ErrMissingPeriodEnd)
	}

	periodStart := ps.CurrentPeriodStart
	if periodStart == 0 {
		periodStart = ps.Created
	}

	sub := &billing.Subscription{
		UserID:                 userID,
		ProviderSubscriptionID: ps.ID,
		ProviderCustomerID:     ps.CustomerID,
		Status:                 status,
		PlanType:               e.planType,
		Currency:               e.defaultCurrency,
		TrialStart:             optionalTime(ps.TrialStart),
		TrialEnd:               optionalTime(ps.TrialEnd),
		CurrentPeriodStart:     fromEpoch(periodStart),
		CurrentPeriodEnd:       fromEpoch(ps.CurrentPeriodEnd),
		CancelAtPeriodEnd:      ps.CancelAtPeriodEnd,
		CanceledAt:             optionalTime(ps.CanceledAt),
	}
	if len(ps.Items) > 0 {
		item := ps.Items[0]
		sub.PriceAmount = item.UnitAmount
		if c := strings.TrimSpace(item.Currency); c != "" {
			sub.Currency = strings.ToUpper(c)
		}
	}
	return sub, nil
}

// ReconcilePayment records a paid invoice against the local subscription.
// Unpaid invoices, invoices without a payment intent and already recorded
// intents return (nil, nil).
func (e *Engine) ReconcilePayment(ctx context.Context, subscriptionID string, inv *billing.ProviderInvoice) (*billing.Payment, error) {
	if inv == nil || inv.Status != billing.InvoiceStatusPaid || inv.PaymentIntentID == "" {
		return nil, nil
	}

	exists, err := e.store.PaymentExists(ctx, inv.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check payment %s: %w", inv.PaymentIntentID, err)
	}
	if exists {
		return nil, nil
	}

	currency := strings.ToUpper(strings.TrimSpace(inv.Currency))
	if currency == "" {
		currency = e.defaultCurrency
	}
	p := &billing.Payment{
		SubscriptionID:          subscriptionID,
		ProviderPaymentIntentID: inv.PaymentIntentID,
		Amount:                  inv.AmountPaid,
		Currency:                currency,
		Status:                  billing.PaymentSucceeded,
		PaidAt:                  optionalTime(inv.PaidAt),
	}

	if err := e.store.InsertPayment(ctx, p); err != nil {
		// Lost a race with a concurrent delivery of the same invoice
		if errors.Is(err, billing.ErrDuplicatePayment) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to record payment %s: %w", inv.PaymentIntentID, err)
	}

	e.logger.Info("payment recorded",
		billing.F("subscription_id", subscriptionID),
		billing.F("stripe_payment_intent_id", inv.PaymentIntentID),
		billing.F("amount", inv.AmountPaid),
	)
	return p, nil
}

// MarkCanceled applies a cancellation to the local row. A terminal cancellation sets
// status canceled and canceled_at; otherwise only cancel_at_period_end is set.
func (e *Engine) MarkCanceled(ctx context.Context, providerSubscriptionID string, canceledAt time.Time, terminal bool) (*billing.Subscription, error) {
	upd := billing.SubscriptionUpdate{}
	if terminal {
		status := billing.StatusCanceled
		at := canceledAt.UTC()
		upd.Status = &status
		upd.CanceledAt = &at
	} else {
		cancel := true
		upd.CancelAtPeriodEnd = &cancel
	}
	return e.update(ctx, providerSubscriptionID, upd)
}

// MarkPastDue sets status past_due after a failed payment. A missing local row is
// logged and returns (nil, nil).
func (e *Engine) MarkPastDue(ctx context.Context, providerSubscriptionID string) (*billing.Subscription, error) {
	status := billing.StatusPastDue
	sub, err := e.update(ctx, providerSubscriptionID, billing.SubscriptionUpdate{Status: &status})
	if errors.Is(err, billing.ErrRecordNotFound) {
		e.logger.Warn("payment failed for unknown subscription, skipping",
			billing.F("stripe_subscription_id", providerSubscriptionID),
		)
		return nil, nil
	}
	return sub, err
}

func (e *Engine) update(ctx context.Context, providerSubscriptionID string, upd billing.SubscriptionUpdate) (*billing.Subscription, error) {
	previous, err := e.store.GetSubscriptionByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load subscription %s: %w", providerSubscriptionID, err)
	}

	sub, err := e.store.UpdateSubscription(ctx, providerSubscriptionID, upd)
	if err != nil {
		if errors.Is(err, billing.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update subscription %s: %w", providerSubscriptionID, err)
	}

	if previous.Status != sub.Status {
		e.metrics.RecordStatusChange(billing.ProviderName, string(previous.Status), string(sub.Status))
	}
	return sub, nil
}

// Now returns the engine clock
func (e *Engine) Now() time.Time {
	return e.now()
}

func fromEpoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// optionalTime maps a zero epoch to nil
func optionalTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := fromEpoch(sec)
	return &t
}
