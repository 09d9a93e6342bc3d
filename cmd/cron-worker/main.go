package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-core/internal/app"
	"github.com/angelmondragon/storefront-core/internal/cron"
	"github.com/angelmondragon/storefront-core/pkg/config"
	"github.com/angelmondragon/storefront-core/pkg/instance"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/metrics"
	"github.com/angelmondragon/storefront-core/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	core, err := app.NewCore(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap core", err)
		os.Exit(1)
	}
	defer core.Close(context.Background(), logg)

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, core.DB); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, core)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	var locks cron.LockFactory
	if cfg.Workers.DistributedLock {
		if core.Redis == nil {
			logg.Error(context.Background(), "distributed lock requested without redis", errors.New("redis not configured"))
			os.Exit(1)
		}
		locks = cron.RedisLocks(core.Redis, cfg.Workers.LockTTL)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locks:    locks,
		Metrics:  metrics.NewCronJobMetrics(core.Registry),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
	})

	if addr := cfg.Workers.MetricsAddr; addr != "" {
		metricsServer := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(core.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "metrics listener stopped", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, core *app.Core) (*cron.Registry, error) {
	registry := cron.NewRegistry()

	orderJob, err := cron.NewOrderSettlementJob(cron.OrderSettlementJobParams{
		Logger:     logg,
		Orders:     core.Orders,
		Settler:    core.Settler,
		Limit:      cfg.Workers.OrderPollLimit,
		MaxAge:     cfg.Workers.PendingMaxAge,
		PaidMaxAge: cfg.Workers.PaidRetryMaxAge,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(orderJob, cfg.Workers.OrderPollInterval)

	depositJob, err := cron.NewDepositSettlementJob(cron.DepositSettlementJobParams{
		Logger:   logg,
		Deposits: core.Orders,
		Settler:  core.Settler,
		Enabled:  app.DepositPollingEnabled(cfg.Pakasir),
		Limit:    cfg.Workers.DepositPollLimit,
		MaxAge:   cfg.Workers.PendingMaxAge,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(depositJob, cfg.Workers.DepositPollInterval)

	expiryJob, err := cron.NewInvoiceExpiryJob(cron.InvoiceExpiryJobParams{
		Logger:          logg,
		DB:              core.DB,
		Orders:          core.Orders,
		Outbox:          core.Outbox,
		Messenger:       core.Messenger,
		Settler:         core.Settler,
		Limit:           cfg.Workers.ExpirySweepLimit,
		RefreshInterval: cfg.Workers.RefreshInterval,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(expiryJob, cfg.Workers.ExpirySweepInterval)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          core.DB,
		Repository:  core.OutboxRepo,
		Retention:   cfg.Outbox.RetentionDays,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(retentionJob, cfg.Outbox.RetentionEvery)

	return registry, nil
}
