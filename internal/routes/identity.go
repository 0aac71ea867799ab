package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stockflow/storefront/internal/identity"
)

// RegisterIdentityRoutes wires the provider event ingestion point and the
// session view.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler, limiter fiber.Handler) {
	r.Post("/identity/events", limiter, h.Ingest)
	r.Get("/session", h.Session)
}
