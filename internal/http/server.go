package http

import (
	"net/http"

	"fiatmesh/internal/events"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, hub *events.Hub) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	if hub != nil {
		r.Get("/ws", hub.ServeHTTP)
	}

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)
		r.Get("/", handler.ListOrders)
		r.Get("/{orderId}", handler.GetOrder)
		r.Post("/{orderId}/match", handler.MatchOrder)
		r.Post("/{orderId}/release", handler.ReleaseOrder)
		r.Post("/{orderId}/qr", handler.AttachQR)
		r.Post("/{orderId}/payment-sent", handler.PaymentSent)
		r.Post("/{orderId}/dispute", handler.DisputeOrder)
		r.Post("/{orderId}/cancel", handler.CancelOrder)
	})

	r.Route("/validators", func(r chi.Router) {
		r.Post("/", handler.RegisterValidator)
		r.Get("/{address}", handler.GetValidator)
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", handler.ListTasks)
		r.Get("/{taskId}", handler.GetTask)
		r.Post("/{taskId}/votes", handler.SubmitVote)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/disputes/{orderId}", handler.AdminResolveDispute)
		r.Post("/validations/{taskId}", handler.AdminResolveValidation)
		r.Post("/settlement/sweep", handler.SettlementSweep)
		r.Post("/settlement/{orderId}/force", handler.ForceSettle)
	})

	return &Server{Router: r}
}
