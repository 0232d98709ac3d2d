package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/storefront-payments/internal/auth"
	"github.com/frahmantamala/storefront-payments/internal/payment"
	"github.com/frahmantamala/storefront-payments/internal/transport/middleware"
	"github.com/frahmantamala/storefront-payments/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, authHandler *auth.Handler, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Provider callbacks are unauthenticated: the providers have no
		// bearer token, correlation happens inside the engine.
		if webhookHandler != nil {
			r.Route("/payments/callback", func(cr chi.Router) {
				cr.Post("/mpesa", webhookHandler.HandleMpesaCallback)
				cr.Post("/stripe", webhookHandler.HandleStripeWebhook)
				cr.Post("/paypal", webhookHandler.HandlePaypalReturn)
			})
		}

		// Auth routes
		if authHandler != nil {
			r.Route("/auth", func(sr chi.Router) {
				sr.Post("/login", authHandler.Login)
				sr.Post("/refresh", authHandler.RefreshToken)
			})
		}

		if authHandler != nil && paymentHandler != nil {
			// Protected routes that require authentication
			r.Group(func(pr chi.Router) {
				pr.Use(authHandler.AuthMiddleware)

				pr.Route("/payments", func(pmr chi.Router) {
					pmr.Post("/mpesa/initiate", paymentHandler.InitiateMpesa)
					pmr.Post("/stripe/initiate", paymentHandler.InitiateStripe)
					pmr.Post("/paypal/initiate", paymentHandler.InitiatePaypal)
					pmr.Get("/status/{orderID}", paymentHandler.GetStatus)
				})
			})
		}
	})
}
