package api

import (
	"time"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// CancelRequest is the optional body of POST /api/subscription/cancel
type CancelRequest struct {
	CancelImmediately bool `json:"cancelImmediately"`
}

// ReceiptQuery holds the parameters of GET /api/subscription/receipt
type ReceiptQuery struct {
	PaymentIntentID string `validate:"required,max=255,startswith=pi_"`
}

// SyncResponse is returned by a successful manual sync
type SyncResponse struct {
	Success      bool                  `json:"success"`
	Subscription *billing.Subscription `json:"subscription"`
}

// CancelResponse is returned by a successful cancellation
type CancelResponse struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	Subscription CanceledState `json:"subscription"`
}

// CanceledState is the subset of a subscription a cancellation changes
type CanceledState struct {
	Status            billing.Status `json:"status"`
	CancelAtPeriodEnd bool           `json:"cancel_at_period_end"`
	CanceledAt        *time.Time     `json:"canceled_at"`
}

// RedirectResponse carries a provider-hosted URL
type RedirectResponse struct {
	URL string `json:"url"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error string `json:"error"`
}
