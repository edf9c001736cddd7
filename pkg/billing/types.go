package billing

import (
	"fmt"
	"strings"
	"time"
)

// Status mirrors the provider's subscription status
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPaused            Status = "paused"
)

var knownStatuses = map[Status]struct{}{
	StatusActive:            {},
	StatusTrialing:          {},
	StatusPastDue:           {},
	StatusCanceled:          {},
	StatusUnpaid:            {},
	StatusIncomplete:        {},
	StatusIncompleteExpired: {},
	StatusPaused:            {},
}

// ParseStatus validates a provider status value. Unknown values are rejected
// rather than coerced so provider API changes surface as errors.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := knownStatuses[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// IsCurrent reports whether the status counts toward the "current subscription" rule
func (s Status) IsCurrent() bool {
	return s == StatusActive || s == StatusTrialing
}

// CurrentStatuses is the status set used to select a user's current subscription
var CurrentStatuses = []Status{StatusActive, StatusTrialing}

// PaymentStatus is the state of a recorded charge
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentPending   PaymentStatus = "pending"
	PaymentCanceled  PaymentStatus = "canceled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Subscription is one user's relationship to a recurring plan.
// At most one row exists per ProviderSubscriptionID.
type Subscription struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"user_id"`
	ProviderSubscriptionID string     `json:"stripe_subscription_id"`
	ProviderCustomerID     string     `json:"stripe_customer_id"`
	Status                 Status     `json:"status"`
	PlanType               string     `json:"plan_type"`
	PriceAmount            int64      `json:"price_amount"`
	Currency               string     `json:"currency"`
	TrialStart             *time.Time `json:"trial_start"`
	TrialEnd               *time.Time `json:"trial_end"`
	CurrentPeriodStart     time.Time  `json:"current_period_start"`
	CurrentPeriodEnd       time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd      bool       `json:"cancel_at_period_end"`
	CanceledAt             *time.Time `json:"canceled_at"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// SubscriptionUpdate is a partial mutation of a subscription row; nil fields are left untouched
type SubscriptionUpdate struct {
	Status            *Status
	CancelAtPeriodEnd *bool
	CanceledAt        *time.Time
}

// Payment is one successful charge tied to a subscription.
// At most one row exists per ProviderPaymentIntentID.
type Payment struct {
	ID                      string        `json:"id"`
	SubscriptionID          string        `json:"subscription_id"`
	ProviderPaymentIntentID string        `json:"stripe_payment_intent_id"`
	Amount                  int64         `json:"amount"`
	Currency                string        `json:"currency"`
	Status                  PaymentStatus `json:"status"`
	PaidAt                  *time.Time    `json:"paid_at"`
	CreatedAt               time.Time     `json:"created_at"`
}

// WaitlistEntry is a pre-signup interest record consulted for early-bird pricing
type WaitlistEntry struct {
	Email     string    `json:"email"`
	EarlyBird bool      `json:"early_bird"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeEmail lower-cases and trims an email address for lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
