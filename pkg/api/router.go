package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// NewRouter mounts the webhook, the authenticated API and the operational endpoints
func NewRouter(config Config) (http.Handler, error) {
	h, err := NewHandler(config)
	if err != nil {
		return nil, err
	}
	return h.Routes(), nil
}

// Routes builds the chi router for h
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(h.config.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.ready)
	if h.config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.config.MetricsHandler)
	}

	// The webhook answers non-POST methods itself
	r.Handle("/webhooks/stripe", h.config.Webhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(h.config.RequestTimeout))
		r.Use(h.config.Authenticator.Middleware)

		r.Post("/subscription/sync", h.Sync)
		r.Post("/subscription/cancel", h.Cancel)
		r.Post("/subscription/portal", h.Portal)
		r.Get("/subscription/receipt", h.Receipt)
		r.Post("/checkout/session", h.Checkout)
	})
	return r
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.config.Ready != nil {
		if err := h.config.Ready(r.Context()); err != nil {
			h.config.Logger.Warn("readiness check failed", billing.F("error", err))
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Not ready"})
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// AccessLog writes one structured line per request
func AccessLog(logger billing.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					billing.F("request_id", middleware.GetReqID(r.Context())),
					billing.F("method", r.Method),
					billing.F("path", r.URL.Path),
					billing.F("status", ww.Status()),
					billing.F("bytes", ww.BytesWritten()),
					billing.F("duration_ms", time.Since(start).Milliseconds()),
					billing.F("remote_ip", r.RemoteAddr),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
