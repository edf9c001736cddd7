package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	authmw "github.com/mihaimyh/billingsync/middleware/http"
	"github.com/mihaimyh/billingsync/pkg/billing"
)

const maxRequestBodyBytes = 4 * 1024

const (
	msgCanceledNow       = "Subscription canceled"
	msgCanceledPeriodEnd = "Subscription will be canceled at the end of the current billing period"
)

// Handler provides the authenticated subscription endpoints
type Handler struct {
	config   Config
	validate *validator.Validate
}

// Sync handles POST /api/subscription/sync
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	if h.config.SyncLimiter != nil {
		allowed, err := h.config.SyncLimiter.Allow(r.Context(), "sync:"+identity.UserID)
		if err != nil {
			h.config.Logger.Warn("sync limiter unavailable",
				billing.F("user_id", identity.UserID),
				billing.F("error", err),
			)
		} else if !allowed {
			h.handleError(w, r, billing.ErrRateLimited, "")
			return
		}
	}

	sub, err := h.config.Commands.SyncFromProvider(r.Context(), identity.UserID, identity.Email)
	if err != nil {
		h.handleError(w, r, err, "Failed to sync subscription")
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Success: true, Subscription: sub})
}

// Cancel handles POST /api/subscription/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.handleError(w, r, fmt.Errorf("%w: %v", billing.ErrInvalidInput, err), "")
		return
	}

	sub, err := h.config.Commands.Cancel(r.Context(), identity.UserID, req.CancelImmediately)
	if err != nil {
		h.handleError(w, r, err, "Failed to cancel subscription")
		return
	}

	msg := msgCanceledPeriodEnd
	if req.CancelImmediately {
		msg = msgCanceledNow
	}
	writeJSON(w, http.StatusOK, CancelResponse{
		Success: true,
		Message: msg,
		Subscription: CanceledState{
			Status:            sub.Status,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			CanceledAt:        sub.CanceledAt,
		},
	})
}

// Portal handles POST /api/subscription/portal
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	url, err := h.config.Commands.OpenBillingPortal(r.Context(), identity.UserID)
	if err != nil {
		h.handleError(w, r, err, "Failed to open billing portal")
		return
	}
	writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
}

// Receipt handles GET /api/subscription/receipt?payment_intent_id=
func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	q := ReceiptQuery{PaymentIntentID: r.URL.Query().Get("payment_intent_id")}
	if err := h.validate.Struct(q); err != nil {
		h.handleError(w, r, fmt.Errorf("%w: %v", billing.ErrInvalidInput, err), "")
		return
	}

	receipt, err := h.config.Commands.Receipt(r.Context(), identity.UserID, q.PaymentIntentID)
	if err != nil {
		h.handleError(w, r, err, "Failed to get receipt")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Checkout handles POST /api/checkout/session
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	session, err := h.config.Commands.CreateCheckout(r.Context(), identity.UserID, identity.Email)
	if err != nil {
		h.handleError(w, r, err, "Failed to create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, RedirectResponse{URL: session.URL})
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (authmw.Identity, bool) {
	identity, ok := authmw.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
	}
	return identity, ok
}

// handleError maps command errors to stable messages; internal error text never reaches the caller
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, failure string) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		if failure != "" {
			msg = failure
		}
		h.config.Logger.Error("request failed",
			billing.F("path", r.URL.Path),
			billing.F("inconsistency", errors.Is(err, billing.ErrInconsistency)),
			billing.F("error", err),
		)
	} else {
		h.config.Logger.Debug("request rejected",
			billing.F("path", r.URL.Path),
			billing.F("status", code),
			billing.F("error", err),
		)
	}
	writeJSON(w, code, ErrorResponse{Error: msg})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, billing.ErrRecordNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, billing.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, billing.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// decodeOptionalJSON decodes a small JSON body into v. An empty body leaves v untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
