// Package notify delivers user-facing subscription notices.
package notify

import (
	"fmt"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// LogNotifier writes cancellation notices to the structured log.
// Email templating lives outside this service; the log line is the hand-off point.
type LogNotifier struct {
	logger billing.Logger
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger billing.Logger) *LogNotifier {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return &LogNotifier{logger: logger}
}

// SubscriptionCanceled logs the notice for the user
func (n *LogNotifier) SubscriptionCanceled(userID string, sub *billing.Subscription, immediate bool) error {
	if sub == nil {
		return fmt.Errorf("%w: subscription is required", billing.ErrInvalidInput)
	}

	fields := []billing.Field{
		billing.F("notice", "subscription_canceled"),
		billing.F("user_id", userID),
		billing.F("stripe_subscription_id", sub.ProviderSubscriptionID),
		billing.F("immediate", immediate),
	}
	if !immediate {
		fields = append(fields, billing.F("access_until", sub.CurrentPeriodEnd))
	}
	n.logger.Info("cancellation notice", fields...)
	return nil
}

var _ billing.Notifier = (*LogNotifier)(nil)
