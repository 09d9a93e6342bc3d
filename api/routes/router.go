package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-core/api/controllers"
	webhookcontrollers "github.com/angelmondragon/storefront-core/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-core/api/middleware"
	"github.com/angelmondragon/storefront-core/internal/balance"
	"github.com/angelmondragon/storefront-core/internal/checkout"
	"github.com/angelmondragon/storefront-core/internal/fulfillment"
	"github.com/angelmondragon/storefront-core/internal/orders"
	"github.com/angelmondragon/storefront-core/internal/settlement"
	"github.com/angelmondragon/storefront-core/pkg/config"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	"github.com/angelmondragon/storefront-core/pkg/idempotency"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/metrics"
	"github.com/angelmondragon/storefront-core/pkg/pakasir"
	"github.com/angelmondragon/storefront-core/pkg/redis"
)

const settledMarkTTL = 24 * time.Hour

type settler interface {
	Settle(ctx context.Context, id string) (settlement.Result, error)
}

type redeliverer interface {
	Redeliver(ctx context.Context, orderID string) (fulfillment.Outcome, error)
}

type stockManager interface {
	AddStock(ctx context.Context, tenantID, variantID int64, payloads []string) (int64, error)
	DeactivateVariant(ctx context.Context, tenantID, variantID int64) error
}

type checkoutHandler interface {
	Handle(ctx context.Context, tenantID, userID int64, in checkout.Input) (checkout.Reply, error)
	AttachPaymentMessage(ctx context.Context, inv checkout.Invoice, chatID, messageID int64) error
}

type tenantProvisioner interface {
	EnsureTenantForOwner(ctx context.Context, ownerUserID int64, name string) (*models.Tenant, bool, error)
	SetGatewayCredentials(ctx context.Context, tenantID int64, creds pakasir.Credentials) error
	NeedsGatewaySetup(ctx context.Context, tenantID int64) (bool, error)
}

type redisStore interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Dependencies carries everything the HTTP surface calls into. Redis is
// optional; without it the webhook is not throttled and admin writes skip
// the idempotency replay.
type Dependencies struct {
	DB          controllers.Pinger
	Redis       redisStore
	RedisPinger controllers.Pinger
	Orders      orders.Store
	Inventory   stockManager
	Balance     balance.Service
	Tenants     tenantProvisioner
	Settler     settler
	Fulfillment redeliverer
	Checkout    checkoutHandler
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg,
			controllers.ReadinessCheck{Name: "db", Pinger: deps.DB},
			controllers.ReadinessCheck{Name: "redis", Pinger: deps.RedisPinger},
		))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	webhookPolicy := middleware.NewRateLimitPolicy(
		"pakasir",
		cfg.Webhook.RateWindow,
		cfg.Webhook.IPLimit,
		cfg.Webhook.OrderLimit,
	)
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		var marks *idempotency.Manager
		if deps.Redis != nil {
			r.Use(middleware.RateLimit(webhookPolicy, deps.Redis, logg))
			marks, _ = idempotency.NewManager(deps.Redis, settledMarkTTL)
		}
		if marks != nil {
			r.Post("/pakasir", webhookcontrollers.PakasirWebhook(deps.Settler, marks, logg))
		} else {
			r.Post("/pakasir", webhookcontrollers.PakasirWebhook(deps.Settler, nil, logg))
		}
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		// Reads are open to viewers; every write needs the admin role.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, string(enums.OperatorRoleAdmin), string(enums.OperatorRoleViewer)))
			r.Get("/orders/undeliverable", controllers.AdminUndeliverableOrders(deps.Orders, logg))
			r.Get("/orders/{orderId}", controllers.AdminOrderDetail(deps.Orders, logg))
			r.Get("/tenants/{tenantId}/stats", controllers.AdminTenantStats(deps.Orders, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, string(enums.OperatorRoleAdmin)))
			if deps.Redis != nil {
				r.Use(middleware.Idempotency(deps.Redis, logg))
			}
			r.Post("/orders/{orderId}/redeliver", controllers.AdminRedeliverOrder(deps.Fulfillment, logg))
			r.Post("/orders/{orderId}/check", controllers.AdminCheckOrder(deps.Settler, logg))
			r.Post("/variants/{variantId}/stock", controllers.AdminAddStock(deps.Inventory, logg))
			r.Delete("/variants/{variantId}", controllers.AdminDeactivateVariant(deps.Inventory, logg))
			r.Post("/balances/adjust", controllers.AdminAdjustBalance(deps.Balance, logg))
			r.Post("/tenants", controllers.AdminEnsureTenant(deps.Tenants, logg))
			r.Put("/tenants/{tenantId}/gateway", controllers.AdminSetTenantGateway(deps.Tenants, logg))
		})

		// The chat adapter relays buyer actions here with an admin token.
		r.Route("/checkout", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, string(enums.OperatorRoleAdmin)))
			r.Post("/events", controllers.CheckoutEvent(deps.Checkout, logg))
			r.Post("/payment-message", controllers.CheckoutPaymentMessage(deps.Checkout, logg))
		})
	})

	return r
}
