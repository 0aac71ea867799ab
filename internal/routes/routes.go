package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stockflow/storefront/internal/config"
	"github.com/stockflow/storefront/internal/funding"
	"github.com/stockflow/storefront/internal/identity"
	"github.com/stockflow/storefront/internal/infra"
	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/middleware"
	"github.com/stockflow/storefront/internal/notification"
	"github.com/stockflow/storefront/internal/purchase"
	"github.com/stockflow/storefront/internal/session"
)

// Deps aggregates the services and connections the facade exposes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Broker *infra.Broker
	Logger *slog.Logger

	Ledger    ledger.Ledger
	Session   *session.Cache
	Identity  *identity.Machine
	Purchases *purchase.Service
	Funding   *funding.Service
	Feed      *notification.Feed

	// DevLedger, when set, is served over the wire contract at /dev/ledger.
	DevLedger ledger.Ledger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger, d.Session.Email))

	RegisterHealthRoutes(app, d)
	if d.DevLedger != nil {
		app.Post("/dev/ledger", ledger.NewHandler(d.DevLedger).Serve)
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)

	RegisterIdentityRoutes(api, identity.NewHandler(d.Identity, d.Session), middleware.EventRateLimit(d.Cache, d.Cfg.EventRateLimit))
	RegisterPurchaseRoutes(api, purchase.NewHandler(d.Purchases, d.Session), idem)
	RegisterFundingRoutes(api, funding.NewHandler(d.Funding), idem)
	RegisterNoticeRoutes(api, d.Feed)
}
