package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/order-saga/internal/api-gateway/infra/httpx/middlewares"
)

// NewRouter mounts the API. metrics may be nil, in which case /metrics is
// not served.
func NewRouter(handler *Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachTracingMetadata)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)
		r.Get("/", handler.ListOrders)
		r.Get("/{orderId}", handler.GetOrderByID)
		r.Get("/{orderId}/execution", handler.GetExecution)
		r.Get("/{orderId}/receipt", handler.GetReceipt)
	})
	r.Post("/tasks", handler.EnqueueTask)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}
