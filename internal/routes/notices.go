package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/stockflow/storefront/internal/notification"
)

// RegisterNoticeRoutes exposes the recent notices feed.
func RegisterNoticeRoutes(r fiber.Router, feed *notification.Feed) {
	r.Get("/notices", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 20)
		return c.Status(http.StatusOK).JSON(fiber.Map{"notices": feed.Recent(limit)})
	})
}
