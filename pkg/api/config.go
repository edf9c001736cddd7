package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	authmw "github.com/mihaimyh/billingsync/middleware/http"
	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/billing/subscription"
)

// Commands is the subscription command surface served by the handler.
// *subscription.Service implements it.
type Commands interface {
	CreateCheckout(ctx context.Context, userID, email string) (*billing.CheckoutSession, error)
	Cancel(ctx context.Context, userID string, immediate bool) (*billing.Subscription, error)
	OpenBillingPortal(ctx context.Context, userID string) (string, error)
	SyncFromProvider(ctx context.Context, userID, email string) (*billing.Subscription, error)
	Receipt(ctx context.Context, userID, paymentIntentID string) (*subscription.Receipt, error)
}

// Config holds configuration for the subscription API
type Config struct {
	// Commands runs the subscription operations (required)
	Commands Commands

	// Authenticator verifies bearer tokens on /api routes (required)
	Authenticator *authmw.Authenticator

	// Webhook serves POST /webhooks/stripe (required)
	Webhook http.Handler

	// SyncLimiter throttles manual syncs per user
	// If nil, syncs are not throttled
	SyncLimiter billing.Limiter

	// MetricsHandler is mounted at /metrics when set
	MetricsHandler http.Handler

	// Ready reports datastore health for /readyz
	// If nil, /readyz always answers ok
	Ready func(context.Context) error

	// RequestTimeout bounds each /api request
	// Default: 30 seconds
	RequestTimeout time.Duration

	// OnError handles command errors
	// If nil, uses default error mapping
	OnError func(http.ResponseWriter, *http.Request, error)

	Logger billing.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Commands == nil {
		return fmt.Errorf("%w: commands are required", billing.ErrConfiguration)
	}
	if c.Authenticator == nil {
		return fmt.Errorf("%w: authenticator is required", billing.ErrConfiguration)
	}
	if c.Webhook == nil {
		return fmt.Errorf("%w: webhook handler is required", billing.ErrConfiguration)
	}
	return nil
}

// NewHandler creates the API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	return &Handler{
		config:   config,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}
