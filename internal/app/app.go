// Package app assembles the storefront services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stockflow/storefront/internal/config"
	"github.com/stockflow/storefront/internal/funding"
	"github.com/stockflow/storefront/internal/identity"
	"github.com/stockflow/storefront/internal/infra"
	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/localstore"
	"github.com/stockflow/storefront/internal/notification"
	"github.com/stockflow/storefront/internal/purchase"
	"github.com/stockflow/storefront/internal/routes"
	"github.com/stockflow/storefront/internal/session"
)

// App holds every wired component.
type App struct {
	Cfg    config.Config
	Logger *slog.Logger

	DB     *pgxpool.Pool
	Cache  *redis.Client
	Broker *infra.Broker

	Ledger    ledger.Ledger
	DevLedger ledger.Ledger
	Store     localstore.Store
	Feed      *notification.Feed
	Notifier  notification.Notifier
	Session   *session.Cache
	Identity  *identity.Machine
	Confirmer purchase.Confirmer
	Purchases *purchase.Service
	Funding   *funding.Service
}

// Option adjusts assembly.
type Option func(*options)

type options struct {
	ledger    ledger.Ledger
	confirmer purchase.Confirmer
	offline   bool
}

// WithLedger replaces the configured ledger.
func WithLedger(l ledger.Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// WithConfirmer replaces the countdown confirmer, e.g. with a terminal prompt.
func WithConfirmer(c purchase.Confirmer) Option {
	return func(o *options) { o.confirmer = c }
}

// WithoutInfra skips Postgres, Redis and AMQP even when configured.
func WithoutInfra() Option {
	return func(o *options) { o.offline = true }
}

// Build connects configured infrastructure and wires the services. Optional
// infrastructure that is not configured is replaced by in-process fallbacks.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Cfg: cfg, Logger: logger}
	if err := a.connect(ctx, o.offline); err != nil {
		a.Close()
		return nil, err
	}

	switch {
	case o.ledger != nil:
		a.Ledger = o.ledger
	case cfg.LedgerURL != "":
		client, err := ledger.NewClient(cfg.LedgerURL, cfg.LedgerTimeout, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Ledger = client
	default:
		logger.Warn("LEDGER_URL not set, using in-memory ledger", slog.String("env", cfg.AppEnv))
		a.DevLedger = ledger.NewInMemory()
		a.Ledger = a.DevLedger
	}

	if a.DB != nil {
		pg := localstore.NewPostgresStore(a.DB)
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.Store = pg
	} else {
		a.Store = localstore.NewMemory()
	}

	a.Feed = notification.NewFeed(0)
	notifiers := []notification.Notifier{notification.NewLoggerNotifier(logger), a.Feed}
	if a.Broker != nil {
		if err := notification.DeclareNoticeQueue(a.Broker.Channel, notification.NoticeQueue); err != nil {
			a.Close()
			return nil, err
		}
		notifiers = append(notifiers, notification.NewAMQPNotifier(a.Broker.Channel, notification.NoticeQueue))
	}
	a.Notifier = notification.Multi(notifiers...)

	var sessionOpts []session.Option
	if a.Cache != nil {
		sessionOpts = append(sessionOpts, session.WithMirror(session.NewRedisMirror(a.Cache, cfg.SessionTTL)))
	}
	a.Session = session.NewCache(a.Ledger, logger, sessionOpts...)
	a.Identity = identity.NewMachine(a.Ledger, a.Store, a.Session, a.Notifier, logger)

	a.Confirmer = o.confirmer
	if a.Confirmer == nil {
		a.Confirmer = purchase.NewCountdownConfirmer(cfg.RepurchaseCountdown, a.Notifier, logger)
	}
	a.Purchases = purchase.NewService(a.Ledger, a.Session, a.Confirmer, a.Notifier, logger)
	a.Funding = funding.NewService(a.Ledger, a.Session, a.Notifier, logger, cfg.TopUpAmounts, cfg.SiteURL)

	return a, nil
}

func (a *App) connect(ctx context.Context, skip bool) error {
	if skip {
		return nil
	}
	if a.Cfg.DatabaseURL != "" {
		db, err := infra.NewPostgresPool(ctx, a.Cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.DB = db
	}
	if a.Cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, a.Cfg.RedisURL)
		if err != nil {
			return err
		}
		a.Cache = cache
	}
	if a.Cfg.AMQPURL != "" {
		broker, err := infra.NewBroker(a.Cfg.AMQPURL)
		if err != nil {
			return err
		}
		a.Broker = broker
	}
	return nil
}

// Restore brings back the last signed-in session.
func (a *App) Restore(ctx context.Context) error {
	res, err := a.Identity.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if res.Email != "" {
		a.Logger.Info("session restored", slog.String("email", res.Email), slog.Bool("offline", res.Offline))
	}
	return nil
}

// Deps exposes the components for route wiring.
func (a *App) Deps() routes.Deps {
	return routes.Deps{
		Cfg:       a.Cfg,
		DB:        a.DB,
		Cache:     a.Cache,
		Broker:    a.Broker,
		Logger:    a.Logger,
		Ledger:    a.Ledger,
		Session:   a.Session,
		Identity:  a.Identity,
		Purchases: a.Purchases,
		Funding:   a.Funding,
		Feed:      a.Feed,
		DevLedger: a.DevLedger,
	}
}

// Close releases infrastructure connections.
func (a *App) Close() error {
	var errs []error
	if a.Broker != nil {
		errs = append(errs, a.Broker.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.DB != nil {
		a.DB.Close()
	}
	return errors.Join(errs...)
}
