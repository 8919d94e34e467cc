package handler

import (
	"context"
	"net/http"

	"github.com/seiixin/PakbetTV-sub001/internal/auth"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"
	"github.com/seiixin/PakbetTV-sub001/internal/metrics"
	"github.com/seiixin/PakbetTV-sub001/internal/middleware"
	"github.com/seiixin/PakbetTV-sub001/internal/utils"
	"github.com/seiixin/PakbetTV-sub001/internal/webhook"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Tiers struct {
	Strict  middleware.Tier
	Webhook middleware.Tier
	General middleware.Tier
}

type RouterConfig struct {
	API      *Handler
	Webhooks *webhook.Handler
	Tokens   *auth.TokenManager
	Limiter  middleware.Limiter
	Tiers    Tiers
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Ping reports whether the database is reachable.
	Ping func(ctx context.Context) error
}

func NewRouter(c RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)
	r.Use(middleware.Instrument(c.Metrics))
	r.Use(middleware.Authenticate(c.Tokens))

	r.Get("/health", health(c.Ping))
	r.Handle("/metrics", metrics.Handler(c.Gatherer))

	// senders retry on anything but 200, so webhooks are never throttled
	webhookTier := c.Tiers.Webhook
	webhookTier.Soft = true
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(c.Limiter, webhookTier))
		r.Get("/webhooks/dragonpay/postback", c.Webhooks.DragonpayPostback)
		r.Post("/webhooks/dragonpay/postback", c.Webhooks.DragonpayPostback)
		r.Post("/webhooks/ninjavan", c.Webhooks.NinjaVanWebhook)
	})

	r.With(middleware.RateLimit(c.Limiter, c.Tiers.General)).
		Get("/payment/return", c.Webhooks.PaymentReturn)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(c.Limiter, c.Tiers.Strict))
			r.Post("/checkout", c.API.Checkout)
			r.Post("/orders/{orderID}/payment", c.API.InitiatePayment)
		})
		r.With(middleware.RateLimit(c.Limiter, c.Tiers.General)).
			Get("/orders/{orderID}", c.API.GetOrder)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireRole(auth.RoleAdmin))
		r.Use(middleware.RateLimit(c.Limiter, c.Tiers.General))

		r.Post("/reconciliation/timeout-sweep", c.API.RunTimeoutSweep)
		r.Post("/reconciliation/auto-complete", c.API.RunAutoComplete)
		r.Get("/payments/{txnID}/status", c.API.PaymentStatus)
		r.Post("/orders/{orderID}/shipment", c.API.BookShipment)
		r.Get("/shipments/{trackingNumber}/tracking", c.API.TrackShipment)
		r.Delete("/shipments/{trackingNumber}", c.API.CancelShipment)
	})

	return r
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				logger.FromCtx(r.Context()).Warn("health check failed", zap.Error(err))
				utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	}
}
