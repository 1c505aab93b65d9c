package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"

	pkgbilling "github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/billing/cache"
	"github.com/dmitrymomot/subsync/pkg/billing/pgstore"
	"github.com/dmitrymomot/subsync/pkg/config"
	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/pg"
	"github.com/dmitrymomot/subsync/pkg/redis"
)

// Config aggregates the module's own environment settings. Provider
// credentials, database and cache connections load through their own
// config structs.
type Config struct {
	Provider     string `env:"BILLING_PROVIDER" envDefault:"stripe"`
	PlansPath    string `env:"BILLING_PLANS_PATH" envDefault:"plans.yml"`
	CacheEnabled bool   `env:"BILLING_CACHE_ENABLED" envDefault:"false"`
	AutoMigrate  bool   `env:"BILLING_AUTO_MIGRATE" envDefault:"false"`
	Environment  string `env:"APP_ENV" envDefault:"development"`
	ServiceName  string `env:"APP_NAME" envDefault:"subsync"`
}

// Module is the fully wired billing subsystem: environment-driven
// configuration, Postgres persistence, optional Redis entitlement cache,
// the provider gateway and the HTTP surface.
type Module struct {
	Service pkgbilling.Service
	Router  chi.Router
	Log     *slog.Logger

	pool *pgxpool.Pool
	rdb  *redisclient.Client
}

// SetupOption customizes module assembly beyond environment configuration.
type SetupOption func(*setupConfig)

type setupConfig struct {
	serviceOpts []pkgbilling.ServiceOption
	plansSource pkgbilling.PlansSource
}

// WithServiceOptions forwards options (extra notifiers, logger override)
// to the underlying billing service.
func WithServiceOptions(opts ...pkgbilling.ServiceOption) SetupOption {
	return func(c *setupConfig) {
		c.serviceOpts = append(c.serviceOpts, opts...)
	}
}

// WithPlansSource overrides the YAML plan catalog, e.g. with a static
// compiled-in list.
func WithPlansSource(src pkgbilling.PlansSource) SetupOption {
	return func(c *setupConfig) {
		if src != nil {
			c.plansSource = src
		}
	}
}

// Setup assembles the billing module from environment configuration.
// It connects Postgres (optionally applying migrations), wraps the store
// with the Redis cache when enabled, picks the provider gateway from
// BILLING_PROVIDER and mounts the HTTP router. Close releases the
// connections Setup opened.
func Setup(ctx context.Context, opts ...SetupOption) (*Module, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("billing module config: %w", err)
	}

	log := logger.New(logger.WithEnvironment(cfg.Environment, cfg.ServiceName))

	sc := setupConfig{plansSource: pkgbilling.FilePlansSource{Path: cfg.PlansPath}}
	for _, opt := range opts {
		opt(&sc)
	}

	var pgCfg pg.Config
	if err := config.Load(&pgCfg); err != nil {
		return nil, fmt.Errorf("billing module postgres config: %w", err)
	}
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("billing module postgres connect: %w", err)
	}
	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("billing module migrations: %w", err)
		}
	}

	m := &Module{Log: log, pool: pool}

	var store pkgbilling.AccountStore = pgstore.New(pool)
	if cfg.CacheEnabled {
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			m.Close()
			return nil, fmt.Errorf("billing module redis config: %w", err)
		}
		rdb, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("billing module redis connect: %w", err)
		}
		m.rdb = rdb

		var cacheCfg cache.Config
		if err := config.Load(&cacheCfg); err != nil {
			m.Close()
			return nil, fmt.Errorf("billing module cache config: %w", err)
		}
		store = cache.New(store, rdb, cacheCfg, log)
	}

	gateway, signatureHeader, err := setupGateway(cfg.Provider)
	if err != nil {
		m.Close()
		return nil, err
	}

	serviceOpts := append([]pkgbilling.ServiceOption{pkgbilling.WithLogger(log)}, sc.serviceOpts...)

	var relayCfg pkgbilling.RelayConfig
	if err := config.Load(&relayCfg); err == nil && relayCfg.URL != "" {
		serviceOpts = append(serviceOpts,
			pkgbilling.WithStatusNotifier(pkgbilling.NewRelayNotifier(relayCfg, log)))
	}

	svc, err := pkgbilling.NewService(ctx, sc.plansSource, gateway, store, serviceOpts...)
	if err != nil {
		m.Close()
		return nil, err
	}

	m.Service = svc
	m.Router = Router(svc, RouterOptions{SignatureHeader: signatureHeader, Logger: log})
	return m, nil
}

func setupGateway(provider string) (pkgbilling.Gateway, string, error) {
	switch strings.ToLower(provider) {
	case "stripe":
		var cfg pkgbilling.StripeConfig
		if err := config.Load(&cfg); err != nil {
			return nil, "", fmt.Errorf("stripe config: %w", err)
		}
		gw, err := pkgbilling.NewStripeGateway(cfg)
		if err != nil {
			return nil, "", err
		}
		return gw, "Stripe-Signature", nil

	case "paddle":
		var cfg pkgbilling.PaddleConfig
		if err := config.Load(&cfg); err != nil {
			return nil, "", fmt.Errorf("paddle config: %w", err)
		}
		gw, err := pkgbilling.NewPaddleGateway(cfg)
		if err != nil {
			return nil, "", err
		}
		return gw, "Paddle-Signature", nil

	default:
		return nil, "", fmt.Errorf("unsupported billing provider: %s", provider)
	}
}

// Close releases the database and cache connections opened by Setup.
func (m *Module) Close() {
	if m.rdb != nil {
		_ = m.rdb.Close()
	}
	if m.pool != nil {
		m.pool.Close()
	}
}
