package handlers

import (
	"net/http"

	"hcen_sync/internal/metrics"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter - общий роутер узла: health, metrics и middleware.
func NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

// RegisterPeripheralRoutes - API клиники. serviceAuth защищает вызовы от центра и админку.
func RegisterPeripheralRoutes(r chi.Router, h *PeripheralHandler, serviceAuth func(http.Handler) http.Handler) {
	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", h.CreateDocument)
		r.Get("/{id}", h.GetDocument)
		r.Delete("/{id}", h.DeleteDocument)
	})

	r.Route("/api/sync/pending", func(r chi.Router) {
		r.Get("/", h.ListPending)
		r.Get("/summary", h.PendingSummary)
	})

	r.Route("/api/access-requests", func(r chi.Router) {
		r.Get("/can-request", h.CanRequest)
		r.Get("/pending", h.ListPendingAccessRequests)
		r.Post("/", h.SubmitAccessRequest)
	})

	r.Group(func(r chi.Router) {
		r.Use(serviceAuth)
		r.Post("/api/admin/sync/force", h.ForceSync)
		r.Put("/api/solicitudes-acceso/{id}/approve", h.ApproveAccessRequest)
		r.Put("/api/solicitudes-acceso/{id}/reject", h.RejectAccessRequest)
	})
}

// RegisterCentralRoutes - API центра. Уведомления от клиник требуют сервисный токен.
func RegisterCentralRoutes(r chi.Router, h *CentralHandler, serviceAuth func(http.Handler) http.Handler) {
	r.Get("/api/access-policies/check", h.CheckPolicy)
	r.Get("/api/patients/{patientId}/notifications", h.ListNotifications)
	r.Post("/api/access-requests/{id}/decision", h.Decide)

	r.Group(func(r chi.Router) {
		r.Use(serviceAuth)
		r.Post("/api/notifications/access-requests", h.NotifyAccessRequest)
	})
}
