package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Webhook payloads are decoded into minimal local shapes rather than SDK
// types. Payload layout follows the endpoint's pinned API version, so both the
// legacy and the current placements of period bounds, subscription id and
// payment intent are read.

// expandableID reads a field that is either an id string or an expanded object with an id
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type wirePrice struct {
	ID         string `json:"id"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Recurring  *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

type wireSubscriptionItem struct {
	Price              *wirePrice `json:"price"`
	CurrentPeriodStart int64      `json:"current_period_start"`
	CurrentPeriodEnd   int64      `json:"current_period_end"`
}

type wireSubscription struct {
	ID       string            `json:"id"`
	Customer expandableID      `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []wireSubscriptionItem `json:"data"`
	} `json:"items"`
	TrialStart         int64 `json:"trial_start"`
	TrialEnd           int64 `json:"trial_end"`
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	CancelAtPeriodEnd  bool  `json:"cancel_at_period_end"`
	CanceledAt         int64 `json:"canceled_at"`
	Created            int64 `json:"created"`
}

type wireInvoice struct {
	ID                string       `json:"id"`
	Customer          expandableID `json:"customer"`
	Status            string       `json:"status"`
	AmountPaid        int64        `json:"amount_paid"`
	Currency          string       `json:"currency"`
	InvoicePDF        string       `json:"invoice_pdf"`
	Created           int64        `json:"created"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`

	// legacy placement
	Subscription  expandableID `json:"subscription"`
	PaymentIntent expandableID `json:"payment_intent"`

	Parent *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Payments *struct {
		Data []struct {
			Payment struct {
				PaymentIntent expandableID `json:"payment_intent"`
			} `json:"payment"`
		} `json:"data"`
	} `json:"payments"`
}

type wireCheckoutSession struct {
	ID              string            `json:"id"`
	Subscription    expandableID      `json:"subscription"`
	Customer        expandableID      `json:"customer"`
	CustomerEmail   string            `json:"customer_email"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

func decodeSubscription(raw json.RawMessage) (*billing.ProviderSubscription, error) {
	var w wireSubscription
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	out := &billing.ProviderSubscription{
		ID:                 w.ID,
		CustomerID:         string(w.Customer),
		Status:             w.Status,
		Metadata:           w.Metadata,
		TrialStart:         w.TrialStart,
		TrialEnd:           w.TrialEnd,
		CurrentPeriodStart: w.CurrentPeriodStart,
		CurrentPeriodEnd:   w.CurrentPeriodEnd,
		CancelAtPeriodEnd:  w.CancelAtPeriodEnd,
		CanceledAt:         w.CanceledAt,
		Created:            w.Created,
	}

	for i, item := range w.Items.Data {
		if i == 0 {
			if out.CurrentPeriodStart == 0 {
				out.CurrentPeriodStart = item.CurrentPeriodStart
			}
			if out.CurrentPeriodEnd == 0 {
				out.CurrentPeriodEnd = item.CurrentPeriodEnd
			}
		}
		line := billing.ProviderLineItem{}
		if item.Price != nil {
			line.PriceID = item.Price.ID
			line.UnitAmount = item.Price.UnitAmount
			line.Currency = item.Price.Currency
			if item.Price.Recurring != nil {
				line.Interval = item.Price.Recurring.Interval
			}
		}
		out.Items = append(out.Items, line)
	}
	return out, nil
}

func decodeInvoice(raw json.RawMessage) (*billing.ProviderInvoice, error) {
	var w wireInvoice
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	out := &billing.ProviderInvoice{
		ID:              w.ID,
		CustomerID:      string(w.Customer),
		Status:          w.Status,
		AmountPaid:      w.AmountPaid,
		Currency:        w.Currency,
		HostedPDFURL:    w.InvoicePDF,
		PaidAt:          w.StatusTransitions.PaidAt,
		Created:         w.Created,
		SubscriptionID:  string(w.Subscription),
		PaymentIntentID: string(w.PaymentIntent),
	}
	if out.SubscriptionID == "" && w.Parent != nil && w.Parent.SubscriptionDetails != nil {
		out.SubscriptionID = string(w.Parent.SubscriptionDetails.Subscription)
	}
	if out.PaymentIntentID == "" && w.Payments != nil {
		for _, p := range w.Payments.Data {
			if p.Payment.PaymentIntent != "" {
				out.PaymentIntentID = string(p.Payment.PaymentIntent)
				break
			}
		}
	}
	return out, nil
}

func decodeCheckoutSession(raw json.RawMessage) (*billing.CheckoutCompletion, error) {
	var w wireCheckoutSession
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	email := w.CustomerEmail
	if email == "" && w.CustomerDetails != nil {
		email = w.CustomerDetails.Email
	}
	return &billing.CheckoutCompletion{
		SessionID:      w.ID,
		SubscriptionID: string(w.Subscription),
		CustomerID:     string(w.Customer),
		CustomerEmail:  email,
		Metadata:       w.Metadata,
	}, nil
}
