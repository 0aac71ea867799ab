package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stockflow/storefront/internal/app"
	"github.com/stockflow/storefront/internal/config"
	"github.com/stockflow/storefront/internal/logging"
	"github.com/stockflow/storefront/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("facade stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("facade exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close infrastructure", slog.Any("error", err))
		}
	}()

	// restore is best effort; the facade starts signed out on failure
	if err := a.Restore(ctx); err != nil {
		logger.Warn("restore session", slog.Any("error", err))
	}

	srv := server.New(a.Deps())
	listenErr := make(chan error, 1)
	go func() { listenErr <- srv.Listen() }()
	logger.Info("facade listening", slog.String("addr", cfg.Address()), slog.String("env", cfg.AppEnv))

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
