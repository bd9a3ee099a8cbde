package handlers

import (
	"net/http"

	"nursery/internal/auth"
	"nursery/internal/logger"
	"nursery/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// RouterDeps: то, что роутеру нужно кроме Handler
type RouterDeps struct {
	Verifier       *auth.Verifier
	OrderLimiter   func(http.Handler) http.Handler
	Websocket      http.Handler
	AllowedOrigins []string
}

// NewRouter собирает все маршруты сервиса
func NewRouter(h *Handler, deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(h.log))

	r.NotFound(h.NotFoundHandler)
	r.MethodNotAllowed(h.MethodNotAllowedHandler)

	authenticated := deps.Verifier.Authenticate
	limit := deps.OrderLimiter
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	// заказы
	r.With(limit, authenticated).Post("/place-order", h.PlaceOrderHandler)
	r.With(authenticated).Get("/my-orders/{userId}", h.MyOrdersHandler)
	if deps.Websocket != nil {
		r.With(authenticated).Get("/ws/orders", deps.Websocket.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)
		// каталог
		r.Get("/products", h.ListProductsHandler)
		r.Get("/products/{productId}", h.GetProductHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticated)

			// котировки пользователя
			r.Post("/quotations", h.CreateQuotationHandler)
			r.Get("/quotations/my", h.GetMyQuotationsHandler)
			r.Get("/quotations/{code}", h.GetQuotationByCodeHandler)

			// продавцы
			r.Post("/merchants", h.ApplyMerchantHandler)
			r.Get("/merchants/me", h.GetMyMerchantHandler)
			r.Route("/merchant", func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleMerchant))
				r.Get("/quotations/open", h.ListOpenQuotationsHandler)
				r.Post("/quotations/{code}/responses", h.CreateMerchantResponseHandler)
			})

			// администратор
			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))
				r.Get("/quotations", h.ListQuotationsHandler)
				r.Get("/quotations/{id}/history", h.GetQuotationHistoryHandler)
				r.Put("/quotations/{id}/approve", h.ApproveQuotationHandler)
				r.Put("/quotations/{id}/reject", h.RejectQuotationHandler)
				r.Put("/quotations/{id}/order-placed", h.MarkOrderPlacedHandler)

				r.Get("/orders", h.ListOrdersHandler)
				r.Get("/orders/{id}", h.GetOrderHandler)
				r.Put("/orders/{id}/status", h.UpdateOrderStatusHandler)

				r.Get("/merchants", h.ListMerchantsHandler)
				r.Get("/merchants/{id}", h.GetMerchantHandler)
				r.Put("/merchants/{id}/status", h.UpdateMerchantStatusHandler)
			})
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler(r)
}
