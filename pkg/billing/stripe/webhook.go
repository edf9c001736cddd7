package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/billing/internal"
)

const (
	// DefaultMaxBodyBytes caps webhook payloads
	DefaultMaxBodyBytes int64 = 256 * 1024

	signatureHeader = "Stripe-Signature"
)

// Event types dispatched to the processor. Everything else is acknowledged and ignored.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
)

// WebhookConfig holds WebhookHandler dependencies
type WebhookConfig struct {
	Verifier  *Verifier
	Processor billing.EventProcessor

	// Limiter throttles deliveries per client IP (optional)
	Limiter billing.Limiter

	// MaxBodyBytes caps the payload size (default: 256 KiB)
	MaxBodyBytes int64

	Metrics billing.Metrics
	Logger  billing.Logger
}

// WebhookHandler is the HTTP endpoint Stripe delivers events to
type WebhookHandler struct {
	verifier     *Verifier
	processor    billing.EventProcessor
	limiter      billing.Limiter
	maxBodyBytes int64
	metrics      billing.Metrics
	logger       billing.Logger
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(config WebhookConfig) (*WebhookHandler, error) {
	if config.Verifier == nil {
		return nil, fmt.Errorf("%w: webhook verifier is required", billing.ErrConfiguration)
	}
	if config.Processor == nil {
		return nil, fmt.Errorf("%w: event processor is required", billing.ErrConfiguration)
	}

	h := &WebhookHandler{
		verifier:     config.Verifier,
		processor:    config.Processor,
		limiter:      config.Limiter,
		maxBodyBytes: config.MaxBodyBytes,
		metrics:      config.Metrics,
		logger:       config.Logger,
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = DefaultMaxBodyBytes
	}
	if h.metrics == nil {
		h.metrics = &billing.NoopMetrics{}
	}
	if h.logger == nil {
		h.logger = &billing.NoopLogger{}
	}
	return h, nil
}

// ServeHTTP implements http.Handler
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.limiter != nil {
		ip := internal.GetClientIP(r)
		allowed, err := h.limiter.Allow(r.Context(), "webhook:"+ip)
		if err != nil {
			// Fail open on limiter errors
			h.logger.Warn("webhook rate limiter unavailable", billing.F("error", err))
		} else if !allowed {
			h.metrics.RecordWebhookError(billing.ProviderName, "rate_limited")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	body, err := internal.ReadBodyStrict(w, r, h.maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			h.metrics.RecordWebhookError(billing.ProviderName, "payload_too_large")
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		} else {
			h.metrics.RecordWebhookError(billing.ProviderName, "invalid_payload")
			http.Error(w, "invalid payload", http.StatusBadRequest)
		}
		return
	}

	event, err := h.verifier.Verify(body, r.Header.Get(signatureHeader))
	if err != nil {
		h.metrics.RecordWebhookError(billing.ProviderName, "auth_failed")
		h.logger.Warn("webhook signature rejected", billing.F("error", err))
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	handled, err := h.dispatch(r.Context(), event)
	if err != nil {
		h.metrics.RecordWebhookEvent(billing.ProviderName, event.Type, "error")
		h.metrics.RecordWebhookError(billing.ProviderName, "processing_error")
		h.metrics.RecordWebhookProcessingDuration(billing.ProviderName, event.Type, time.Since(startTime))
		h.logger.Error("webhook processing failed",
			billing.F("event_id", event.ID),
			billing.F("event_type", event.Type),
			billing.F("error", err),
		)
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	status := "success"
	if !handled {
		status = "ignored"
		h.logger.Debug("webhook event ignored", billing.F("event_id", event.ID), billing.F("event_type", event.Type))
	}
	h.metrics.RecordWebhookEvent(billing.ProviderName, event.Type, status)
	h.metrics.RecordWebhookProcessingDuration(billing.ProviderName, event.Type, time.Since(startTime))

	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// dispatch routes a verified event to the processor. It reports false for event types it does not handle.
func (h *WebhookHandler) dispatch(ctx context.Context, event *billing.Event) (bool, error) {
	switch event.Type {
	case EventCheckoutSessionCompleted:
		session, err := decodeCheckoutSession(event.Raw)
		if err != nil {
			return true, err
		}
		return true, h.processor.CheckoutCompleted(ctx, session)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		sub, err := decodeSubscription(event.Raw)
		if err != nil {
			return true, err
		}
		return true, h.processor.SubscriptionChanged(ctx, sub)

	case EventSubscriptionDeleted:
		sub, err := decodeSubscription(event.Raw)
		if err != nil {
			return true, err
		}
		return true, h.processor.SubscriptionDeleted(ctx, sub)

	case EventInvoicePaymentSucceeded:
		inv, err := decodeInvoice(event.Raw)
		if err != nil {
			return true, err
		}
		return true, h.processor.InvoicePaymentSucceeded(ctx, inv)

	case EventInvoicePaymentFailed:
		inv, err := decodeInvoice(event.Raw)
		if err != nil {
			return true, err
		}
		return true, h.processor.InvoicePaymentFailed(ctx, inv)

	default:
		return false, nil
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
