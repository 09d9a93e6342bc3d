// Package app assembles the reconciliation core shared by the api and
// cron-worker processes.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-core/internal/balance"
	"github.com/angelmondragon/storefront-core/internal/checkout"
	"github.com/angelmondragon/storefront-core/internal/fulfillment"
	"github.com/angelmondragon/storefront-core/internal/inventory"
	"github.com/angelmondragon/storefront-core/internal/messenger"
	"github.com/angelmondragon/storefront-core/internal/orders"
	"github.com/angelmondragon/storefront-core/internal/settlement"
	"github.com/angelmondragon/storefront-core/internal/tenants"
	"github.com/angelmondragon/storefront-core/pkg/config"
	"github.com/angelmondragon/storefront-core/pkg/db"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/metrics"
	"github.com/angelmondragon/storefront-core/pkg/outbox"
	"github.com/angelmondragon/storefront-core/pkg/pakasir"
	"github.com/angelmondragon/storefront-core/pkg/redis"
	"github.com/angelmondragon/storefront-core/pkg/telegram"
)

// Core is the wired object graph. Redis is nil when no endpoint is configured.
type Core struct {
	DB          *db.Client
	Redis       *redis.Client
	Orders      orders.Store
	Inventory   inventory.Service
	Balance     balance.Service
	Tenants     *tenants.Resolver
	Gateway     *pakasir.Client
	Messenger   messenger.Messenger
	Outbox      *outbox.Service
	OutboxRepo  *outbox.Repository
	Fulfillment *fulfillment.Engine
	Settler     *settlement.Settler
	Checkout    *checkout.Machine
	Registry    *prometheus.Registry
}

// NewCore connects to the database and redis and builds every service on
// top of them. Close releases both connections.
func NewCore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Core, error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	core := &Core{DB: dbClient, Registry: prometheus.NewRegistry()}
	core.Registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			core.Close(ctx, logg)
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		core.Redis = redisClient
	} else {
		logg.Warn(ctx, "redis not configured; settlement locks and checkout sessions disabled")
	}

	if err := core.wire(cfg, logg); err != nil {
		core.Close(ctx, logg)
		return nil, err
	}
	return core, nil
}

func (c *Core) wire(cfg *config.Config, logg *logger.Logger) error {
	conn := c.DB.DB()
	recon := metrics.NewReconciliationMetrics(c.Registry)

	store, err := orders.NewStore(conn, logg)
	if err != nil {
		return err
	}
	c.Orders = store

	if c.Inventory, err = inventory.NewService(inventory.NewRepository(conn), c.DB); err != nil {
		return err
	}
	if c.Balance, err = balance.NewService(balance.NewRepository(conn), c.DB); err != nil {
		return err
	}
	if c.Tenants, err = tenants.NewResolver(tenants.NewRepository(conn), cfg.Pakasir); err != nil {
		return err
	}

	c.Gateway = pakasir.NewClient(
		pakasir.WithBaseURL(cfg.Pakasir.BaseURL),
		pakasir.WithTimeout(cfg.Pakasir.Timeout),
		pakasir.WithObserver(recon),
	)

	c.Messenger = messenger.Discard{}
	if cfg.Telegram.BotToken != "" {
		bot, err := telegram.NewClient(cfg.Telegram.BotToken, telegram.WithBaseURL(cfg.Telegram.BaseURL))
		if err != nil {
			return fmt.Errorf("telegram client: %w", err)
		}
		c.Messenger = bot
	} else {
		logg.Warn(context.Background(), "telegram bot token not set; buyer notifications are dropped")
	}

	c.OutboxRepo = outbox.NewRepository(conn)
	c.Outbox = outbox.NewService(c.OutboxRepo, logg)

	if c.Fulfillment, err = fulfillment.NewEngine(fulfillment.Params{
		Orders:    store,
		Inventory: c.Inventory,
		Tenants:   c.Tenants,
		Messenger: c.Messenger,
		Outbox:    c.Outbox,
		Tx:        c.DB,
		Metrics:   recon,
		Logger:    logg,
		ClaimTTL:  cfg.Workers.FulfillmentClaimTTL,
	}); err != nil {
		return err
	}

	params := settlement.Params{
		Orders:      store,
		Balance:     c.Balance,
		Gateway:     c.Gateway,
		Credentials: c.Tenants,
		Fulfillment: c.Fulfillment,
		Outbox:      c.Outbox,
		Tx:          c.DB,
		Messenger:   c.Messenger,
		Metrics:     recon,
		Logger:      logg,
	}
	if c.Redis != nil {
		params.Locker = c.Redis
	}
	if c.Settler, err = settlement.NewSettler(params); err != nil {
		return err
	}

	var sessions checkout.SessionStore
	if c.Redis != nil {
		if sessions, err = checkout.NewRedisSessionStore(c.Redis, cfg.Checkout.SessionTTL); err != nil {
			return err
		}
	}
	c.Checkout, err = checkout.NewMachine(checkout.Params{
		Orders:      store,
		Inventory:   c.Inventory,
		Balance:     c.Balance,
		Gateway:     c.Gateway,
		Accounts:    c.Tenants,
		Fulfillment: c.Fulfillment,
		Payments:    c.Settler,
		Outbox:      c.Outbox,
		Tx:          c.DB,
		Sessions:    sessions,
		Checkout:    cfg.Checkout,
		Rent:        cfg.Rent,
		Logger:      logg,
	})
	return err
}

// DepositPollingEnabled reports whether admin gateway credentials exist.
// Deposits are only ever charged when they do.
func DepositPollingEnabled(cfg config.PakasirConfig) func() bool {
	return func() bool {
		return cfg.Slug != "" && cfg.APIKey != ""
	}
}

// Close releases the redis and database connections.
func (c *Core) Close(ctx context.Context, logg *logger.Logger) {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}
}
