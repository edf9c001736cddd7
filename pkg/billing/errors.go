package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureInvalid is returned when a webhook signature fails verification
	// or no webhook secret is configured
	ErrSignatureInvalid = errors.New("invalid webhook signature")

	// ErrProvider is returned (wrapped in a *ProviderError) for any payment provider API failure
	ErrProvider = errors.New("billing provider API error")

	// ErrRecordNotFound is returned when a required local or provider record does not exist
	ErrRecordNotFound = errors.New("record not found")

	// ErrConfiguration is returned when required credentials or settings are absent
	ErrConfiguration = errors.New("billing not configured")

	// ErrInconsistency is returned when the provider accepted a mutation but the local
	// record could not be updated. The two systems stay diverged until the next sync.
	ErrInconsistency = errors.New("provider and local state diverged")

	// ErrUnknownStatus is returned for a provider subscription status this system does not mirror
	ErrUnknownStatus = errors.New("unknown subscription status")

	// ErrMissingPeriodEnd is returned when a provider subscription carries no current period end
	ErrMissingPeriodEnd = errors.New("subscription missing current period end")

	// ErrDuplicatePayment is returned by a Store when a payment intent is already recorded
	ErrDuplicatePayment = errors.New("payment already recorded")

	// ErrForbidden is returned when the caller does not own the requested record
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited is returned when a caller exceeds the allowed request rate
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidInput is returned for malformed caller input
	ErrInvalidInput = errors.New("invalid input")
)

// ProviderError carries the provider's message for a failed API call.
type ProviderError struct {
	// Op is the gateway operation that failed (e.g. "retrieve_subscription")
	Op string

	// Message is the provider's own error message
	Message string

	// Err is the underlying SDK or transport error
	Err error
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", ErrProvider, e.Op)
	}
	return fmt.Sprintf("%s: %s: %s", ErrProvider, e.Op, e.Message)
}

// Unwrap exposes the underlying error
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrProvider) true for every ProviderError
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}
