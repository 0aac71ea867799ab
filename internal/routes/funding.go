package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stockflow/storefront/internal/funding"
)

// RegisterFundingRoutes wires wallet top-up endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, idem fiber.Handler) {
	g := r.Group("/wallet")
	g.Get("/topup", h.Menu)
	g.Post("/topup", idem, h.TopUp)
	g.Post("/reconcile", h.Reconcile)
}
