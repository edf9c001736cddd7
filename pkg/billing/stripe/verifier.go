package stripe

import (
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Verifier authenticates webhook deliveries with the endpoint signing secret
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a verifier for the given signing secret. An empty
// secret is accepted here and rejects every delivery.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:    strings.TrimSpace(secret),
		tolerance: webhook.DefaultTolerance,
	}
}

// Verify checks the Stripe-Signature header against the raw payload and
// returns the parsed event. Any failure is ErrSignatureInvalid.
func (v *Verifier) Verify(payload []byte, header string) (*billing.Event, error) {
	if v.secret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", billing.ErrSignatureInvalid)
	}
	if header == "" {
		return nil, fmt.Errorf("%w: missing signature header", billing.ErrSignatureInvalid)
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrSignatureInvalid, err)
	}

	out := &billing.Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data != nil {
		out.Raw = event.Data.Raw
	}
	return out, nil
}
