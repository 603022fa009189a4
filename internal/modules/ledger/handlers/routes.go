package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/", h.HandleQuery)
		r.Get("/pending", h.HandlePending)
		r.Get("/{id}", h.HandleGet)
		r.Post("/{id}/exit", h.HandleExit)
	})
}
