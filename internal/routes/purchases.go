package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stockflow/storefront/internal/purchase"
)

// RegisterPurchaseRoutes wires the purchase pipeline endpoints.
func RegisterPurchaseRoutes(r fiber.Router, h *purchase.Handler, idem fiber.Handler) {
	g := r.Group("/purchases")
	g.Post("", idem, h.Buy)
	g.Get("", h.History)
	g.Get("/confirmations", h.Confirmations)
	g.Post("/confirmations/:id/cancel", h.CancelConfirmation)
}
