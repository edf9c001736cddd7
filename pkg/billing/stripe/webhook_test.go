package stripe

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// recordingProcessor tracks processor calls and returns err for each
type recordingProcessor struct {
	mu    sync.Mutex
	calls []string
	subs  []*billing.ProviderSubscription
	invs  []*billing.ProviderInvoice
	err   error
}

func (p *recordingProcessor) record(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
	return p.err
}

func (p *recordingProcessor) CheckoutCompleted(_ context.Context, _ *billing.CheckoutCompletion) error {
	return p.record("checkout_completed")
}

func (p *recordingProcessor) SubscriptionChanged(_ context.Context, sub *billing.ProviderSubscription) error {
	p.subs = append(p.subs, sub)
	return p.record("subscription_changed")
}

func (p *recordingProcessor) SubscriptionDeleted(_ context.Context, sub *billing.ProviderSubscription) error {
	p.subs = append(p.subs, sub)
	return p.record("subscription_deleted")
}

func (p *recordingProcessor) InvoicePaymentSucceeded(_ context.Context, inv *billing.ProviderInvoice) error {
	p.invs = append(p.invs, inv)
	return p.record("invoice_payment_succeeded")
}

func (p *recordingProcessor) InvoicePaymentFailed(_ context.Context, inv *billing.ProviderInvoice) error {
	p.invs = append(p.invs, inv)
	return p.record("invoice_payment_failed")
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

type keyRecorder struct {
	keys []string
}

func (k *keyRecorder) Allow(_ context.Context, key string) (bool, error) {
	k.keys = append(k.keys, key)
	return true, nil
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func newTestWebhook(t *testing.T, proc billing.EventProcessor, limiter billing.Limiter) *WebhookHandler {
	t.Helper()
	h, err := NewWebhookHandler(WebhookConfig{
		Verifier:  NewVerifier(testWebhookSecret),
		Processor: proc,
		Limiter:   limiter,
	})
	require.NoError(t, err)
	return h
}

func signedRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signedHeader(t, payload, testWebhookSecret, time.Now()))
	return req
}

func TestNewWebhookHandler_RequiresDependencies(t *testing.T) {
	_, err := NewWebhookHandler(WebhookConfig{Processor: &recordingProcessor{}})
	assert.True(t, errors.Is(err, billing.ErrConfiguration))

	_, err = NewWebhookHandler(WebhookConfig{Verifier: NewVerifier(testWebhookSecret)})
	assert.True(t, errors.Is(err, billing.ErrConfiguration))
}

func TestWebhookHandler_Dispatch(t *testing.T) {
	tests := []struct {
		eventType string
		object    string
		wantCall  string
	}{
		{EventCheckoutSessionCompleted, `{"id":"cs_1","subscription":"sub_1","metadata":{"user_id":"u1"}}`, "checkout_completed"},
		{EventSubscriptionCreated, `{"id":"sub_1","status":"trialing"}`, "subscription_changed"},
		{EventSubscriptionUpdated, `{"id":"sub_1","status":"active"}`, "subscription_changed"},
		{EventSubscriptionDeleted, `{"id":"sub_1","status":"canceled"}`, "subscription_deleted"},
		{EventInvoicePaymentSucceeded, `{"id":"in_1","status":"paid"}`, "invoice_payment_succeeded"},
		{EventInvoicePaymentFailed, `{"id":"in_1","status":"open"}`, "invoice_payment_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			proc := &recordingProcessor{}
			h := newTestWebhook(t, proc, nil)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, signedRequest(t, eventPayload("evt_1", tt.eventType, tt.object)))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"received":true}`, w.Body.String())
			assert.Equal(t, []string{tt.wantCall}, proc.calls)
		})
	}
}

func TestWebhookHandler_UnknownEventAcknowledged(t *testing.T) {
	proc := &recordingProcessor{}
	h := newTestWebhook(t, proc, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, eventPayload("evt_1", "customer.created", `{"id":"cus_1"}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
	assert.Empty(t, proc.calls)
}

func TestWebhookHandler_RejectsUnsigned(t *testing.T) {
	proc := &recordingProcessor{}
	h := newTestWebhook(t, proc, nil)
	payload := eventPayload("evt_1", EventSubscriptionUpdated, `{"id":"sub_1","status":"active"}`)

	t.Run("missing signature", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", signedHeader(t, payload, "whsec_wrong", time.Now()))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unconfigured secret", func(t *testing.T) {
		unconfigured, err := NewWebhookHandler(WebhookConfig{Verifier: NewVerifier(""), Processor: proc})
		require.NoError(t, err)
		w := httptest.NewRecorder()
		unconfigured.ServeHTTP(w, signedRequest(t, payload))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	assert.Empty(t, proc.calls, "no processing without a valid signature")
}

func TestWebhookHandler_ProcessingErrorIs500(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("db down")}
	h := newTestWebhook(t, proc, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, eventPayload("evt_1", EventSubscriptionUpdated, `{"id":"sub_1","status":"active"}`)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestWebhookHandler_MalformedObjectIs500(t *testing.T) {
	proc := &recordingProcessor{}
	h := newTestWebhook(t, proc, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, eventPayload("evt_1", EventInvoicePaymentSucceeded, `{"id":"in_1","amount_paid":"lots"}`)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, proc.calls)
}

func TestWebhookHandler_RequestValidation(t *testing.T) {
	proc := &recordingProcessor{}
	h := newTestWebhook(t, proc, nil)

	t.Run("method", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		big := strings.Repeat("x", int(DefaultMaxBodyBytes)+1)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(big)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	assert.Empty(t, proc.calls)
}

func TestWebhookHandler_RateLimited(t *testing.T) {
	proc := &recordingProcessor{}
	h := newTestWebhook(t, proc, denyLimiter{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, eventPayload("evt_1", EventSubscriptionUpdated, `{"id":"sub_1"}`)))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Empty(t, proc.calls)
}

func TestWebhookHandler_LimiterKeysOnRemoteAddr(t *testing.T) {
	limiter := &keyRecorder{}
	h := newTestWebhook(t, &recordingProcessor{}, limiter)

	for _, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
		req := signedRequest(t, eventPayload("evt_1", EventSubscriptionUpdated, `{"id":"sub_1"}`))
		req.RemoteAddr = "192.0.2.10:5555"
		req.Header.Set("X-Forwarded-For", forwarded)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, []string{"webhook:192.0.2.10", "webhook:192.0.2.10"}, limiter.keys)
}

func TestWebhookHandler_LimiterErrorFailsOpen(t *testing.T) {
	proc := &recordingProcessor{}
	h := newTestWebhook(t, proc, brokenLimiter{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, eventPayload("evt_1", EventSubscriptionUpdated, `{"id":"sub_1"}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"subscription_changed"}, proc.calls)
}
