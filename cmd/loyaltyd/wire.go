package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mihaimyh/goloyalty/internal/config"
	"github.com/mihaimyh/goloyalty/internal/server"
	"github.com/mihaimyh/goloyalty/pkg/billing"
	billingprom "github.com/mihaimyh/goloyalty/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/goloyalty/pkg/billing/stripe"
	"github.com/mihaimyh/goloyalty/pkg/loyalty"
	zerologadapter "github.com/mihaimyh/goloyalty/pkg/loyalty/logger/zerolog"
	loyaltyprom "github.com/mihaimyh/goloyalty/pkg/loyalty/metrics/prometheus"
	"github.com/mihaimyh/goloyalty/storage/firestore"
	"github.com/mihaimyh/goloyalty/storage/memory"
	"github.com/mihaimyh/goloyalty/storage/postgres"
	"github.com/mihaimyh/goloyalty/storage/redis"
	"github.com/mihaimyh/goloyalty/storage/tiered"
)

// app is the assembled daemon
type app struct {
	Engine   *loyalty.Engine
	Handler  http.Handler
	Registry *prometheus.Registry

	closers []func()
	once    sync.Once
}

// Close releases storage resources in reverse order of creation
func (a *app) Close() {
	a.once.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}

// build wires storage, engine, metrics, billing and the router from cfg
func build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	storage, ready, err := a.newStorage(ctx, cfg.Storage, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	loyaltyLogger := zerologadapter.NewLogger(logger)
	engineCfg := &loyalty.Config{
		CacheConfig: &loyalty.CacheConfig{
			Enabled:      cfg.Cache.Enabled,
			TierTTL:      cfg.Cache.TierTTL,
			CustomerTTL:  cfg.Cache.CustomerTTL,
			MaxCustomers: cfg.Cache.MaxCustomers,
		},
		CircuitBreakerConfig: &loyalty.CircuitBreakerConfig{
			Enabled:          cfg.CircuitBreaker.Enabled,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
		},
		Logger: loyaltyLogger,
	}
	if cfg.Metrics.Enabled {
		engineCfg.Metrics = loyaltyprom.NewMetrics(a.Registry, cfg.Metrics.Namespace)
	}

	minLiters, err := decimal.NewFromString(cfg.Giveaway.MinimumLiters)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("giveaway.minimum_liters: %w", err)
	}
	engineCfg.Giveaway = loyalty.GiveawayRule{
		MinimumLiters:    minLiters,
		MinimumPurchases: cfg.Giveaway.MinimumPurchases,
		Window:           cfg.Giveaway.Window,
	}

	var tiers *config.TierFile
	if cfg.TiersFile != "" {
		if tiers, err = config.LoadTiers(cfg.TiersFile); err != nil {
			a.Close()
			return nil, err
		}
		if engineCfg.Catalog, err = tiers.Catalog(); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Engine, err = loyalty.NewEngine(storage, engineCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if tiers != nil {
		warnings, err := a.Engine.SetTiers(ctx, tiers.Tiers)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("seed tiers: %w", err)
		}
		for _, w := range warnings {
			logger.Warn().Str("tiers_file", cfg.TiersFile).Msg(w)
		}
		logger.Info().Int("tiers", len(tiers.Tiers)).Msg("tiers seeded")
	}

	var providers []billing.Provider
	if cfg.Stripe.WebhookSecret != "" {
		base := billing.Config{Engine: a.Engine, Logger: loyaltyLogger}
		if cfg.Metrics.Enabled {
			base.Metrics = billingprom.NewMetrics(a.Registry, cfg.Metrics.Namespace)
		}
		provider, err := stripe.NewProvider(stripe.Config{
			Config:              base,
			StripeWebhookSecret: cfg.Stripe.WebhookSecret,
			RateLimitRequests:   cfg.Stripe.RateLimitRequests,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		providers = append(providers, provider)
	}

	opts := server.Options{
		Engine:         a.Engine,
		Logger:         logger,
		CustomerHeader: cfg.Auth.CustomerHeader,
		AdminToken:     cfg.Auth.AdminToken,
		Providers:      providers,
		Ready:          ready,
	}
	if cfg.Metrics.Enabled {
		opts.Gatherer = a.Registry
		opts.MetricsPath = cfg.Metrics.Path
	}
	if a.Handler, err = server.NewRouter(opts); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Auth.AdminToken == "" {
		logger.Warn().Msg("auth.admin_token is empty; admin routes are disabled")
	}
	return a, nil
}

// newStorage opens the configured backend, optionally behind an in-memory hot layer
func (a *app) newStorage(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (loyalty.Storage, server.Pinger, error) {
	var (
		storage loyalty.Storage
		ready   server.Pinger
	)

	switch cfg.Backend {
	case config.BackendMemory:
		storage = memory.New()

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rcfg := redis.DefaultConfig()
		if cfg.RedisKeyPrefix != "" {
			rcfg.KeyPrefix = cfg.RedisKeyPrefix
		}
		s, err := redis.New(client, rcfg)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		storage, ready = s, s

	case config.BackendPostgres:
		pcfg := postgres.DefaultConfig()
		pcfg.ConnectionString = cfg.PostgresDSN
		pcfg.AutoMigrate = cfg.PostgresAutoMigrate
		s, err := postgres.New(ctx, pcfg)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s.Close)
		storage, ready = s, s

	case config.BackendFirestore:
		client, err := gcfirestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		s, err := firestore.New(client, firestore.Config{})
		if err != nil {
			return nil, nil, err
		}
		storage = s

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.Tiered {
		t, err := tiered.New(tiered.Config{
			Hot:  memory.New(),
			Cold: storage,
			AsyncErrorHandler: func(err error) {
				logger.Error().Err(err).Msg("tiered storage hot sync failed")
			},
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = t.Close() })
		storage = t
	}

	logger.Info().Str("backend", cfg.Backend).Bool("tiered", cfg.Tiered).Msg("storage ready")
	return storage, ready, nil
}
