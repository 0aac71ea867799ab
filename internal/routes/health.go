package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stockflow/storefront/internal/ledger"
)

const healthProbeEmail = "healthcheck@stockflow.invalid"

// RegisterHealthRoutes reports the state of every configured dependency.
// Unconfigured dependencies are reported as "disabled".
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := fiber.Map{}
		healthy := true
		report := func(name string, configured bool, check func() error) {
			if !configured {
				status[name] = "disabled"
				return
			}
			if err := check(); err != nil {
				status[name] = err.Error()
				healthy = false
				return
			}
			status[name] = "ok"
		}

		report("postgres", d.DB != nil, func() error { return d.DB.Ping(ctx) })
		report("redis", d.Cache != nil, func() error { return d.Cache.Ping(ctx).Err() })
		report("amqp", d.Broker != nil, func() error {
			if !d.Broker.Healthy() {
				return errors.New("connection closed")
			}
			return nil
		})
		report("ledger", d.Ledger != nil, func() error {
			_, err := d.Ledger.FetchIdentity(ctx, healthProbeEmail)
			if errors.Is(err, ledger.ErrTransport) {
				return err
			}
			return nil
		})

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
