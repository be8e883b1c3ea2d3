package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/Sufyane-M/cv-billing-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware биллинг-сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/balance", h.GetBalance)
			r.Post("/credits/consume", h.ConsumeCredit)
			r.Get("/transactions", h.GetTransactions)
		})
	})

	r.Get("/api/bundles", h.GetBundles)

	r.Route("/api/stripe", func(r chi.Router) {
		// Вебхук подписан Stripe и не требует пользовательской сессии.
		r.Post("/webhook", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.OptionalMiddleware)

			r.Post("/create-checkout-session", h.CreateCheckoutSession)
			r.Get("/verify-session/{sessionID}", h.VerifySession)
		})
	})

	r.Route("/api/coupons", func(r chi.Router) {
		r.Get("/public", h.ListPublicCoupons)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.OptionalMiddleware)

			r.Get("/validate/{code}", h.ValidateCoupon)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/apply", h.ApplyCoupon)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireAdmin)

			r.Post("/create", h.CreateCoupon)
			r.Post("/update", h.UpdateCoupon)
			r.Post("/delete", h.DeleteCoupon)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireAdmin)

		r.Post("/block-ip", h.BlockIP)
		r.Post("/unblock-ip", h.UnblockIP)
		r.Get("/security-logs", h.GetSecurityLogs)
		r.Post("/credits/adjust", h.AdjustCredits)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
