package handlers

import (
	"net/http"

	"github.com/diagnosis/checkin-refunds/pkg/auth"
	"github.com/go-chi/chi/v5"
)

// Mount registers the service routes on r. idempotency wraps QR generation
// so a double-clicked regenerate replays instead of rotating the code twice.
func (h *Handlers) Mount(r chi.Router, idempotency func(http.Handler) http.Handler) {
	if idempotency == nil {
		idempotency = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/attendance", func(r chi.Router) {
		r.With(h.RequireJWT("")).Post("/check", h.CheckIn)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireJWT(auth.RoleStaff))
			r.With(idempotency).Post("/qr/generate", h.GenerateQR)
			r.Post("/qr/revoke", h.RevokeQR)
			r.Get("/occurrences/{id}/tokens", h.ListTokens)
			r.Get("/occurrences/{id}/records", h.ListRecords)
			r.Patch("/occurrences/{id}/participants/{pid}", h.CorrectAttendance)
			r.Get("/programs/{id}/occurrences", h.ListOccurrences)
		})
	})

	r.Route("/settlements/programs/{id}", func(r chi.Router) {
		r.Use(h.RequireJWT(auth.RoleStaff))
		r.Post("/", h.SettleProgram)
		r.Get("/participants/{pid}", h.GetSettlement)
	})
}
