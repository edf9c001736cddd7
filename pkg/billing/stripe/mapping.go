package stripe

import (
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// mapSubscription converts an SDK subscription to the provider-neutral shape.
// Current period bounds live on subscription items in this API version; the
// first item carries them.
func mapSubscription(sub *stripe.Subscription) *billing.ProviderSubscription {
	if sub == nil {
		return nil
	}

	out := &billing.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		Metadata:          sub.Metadata,
		TrialStart:        sub.TrialStart,
		TrialEnd:          sub.TrialEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        sub.CanceledAt,
		Created:           sub.Created,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	if sub.Items != nil {
		for i, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if i == 0 {
				out.CurrentPeriodStart = item.CurrentPeriodStart
				out.CurrentPeriodEnd = item.CurrentPeriodEnd
			}
			out.Items = append(out.Items, mapLineItem(item.Price))
		}
	}
	return out
}

func mapLineItem(price *stripe.Price) billing.ProviderLineItem {
	if price == nil {
		return billing.ProviderLineItem{}
	}
	item := billing.ProviderLineItem{
		PriceID:    price.ID,
		UnitAmount: price.UnitAmount,
		Currency:   string(price.Currency),
	}
	if price.Recurring != nil {
		item.Interval = string(price.Recurring.Interval)
	}
	return item
}

// mapInvoice converts an SDK invoice to the provider-neutral shape. The
// subscription id comes from the invoice parent and the payment intent from
// the first invoice payment that carries one.
func mapInvoice(inv *stripe.Invoice) billing.ProviderInvoice {
	if inv == nil {
		return billing.ProviderInvoice{}
	}

	out := billing.ProviderInvoice{
		ID:           inv.ID,
		Status:       string(inv.Status),
		AmountPaid:   inv.AmountPaid,
		Currency:     string(inv.Currency),
		HostedPDFURL: inv.InvoicePDF,
		Created:      inv.Created,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.StatusTransitions != nil {
		out.PaidAt = inv.StatusTransitions.PaidAt
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	if inv.Payments != nil {
		for _, p := range inv.Payments.Data {
			if p == nil || p.Payment == nil || p.Payment.PaymentIntent == nil {
				continue
			}
			out.PaymentIntentID = p.Payment.PaymentIntent.ID
			break
		}
	}
	return out
}
