package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stockflow/storefront/internal/config"
	"github.com/stockflow/storefront/internal/routes"
)

// Server wraps the Fiber application serving the local facade.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// The write timeout leaves room for a repeat-purchase countdown.
func New(d routes.Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               d.Cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30*time.Second + d.Cfg.RepurchaseCountdown,
		DisableStartupMessage: true,
	})

	routes.Setup(app, d)

	return &Server{app: app, cfg: d.Cfg}
}

// App exposes the underlying Fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
