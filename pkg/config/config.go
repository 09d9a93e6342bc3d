package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Pakasir      PakasirConfig
	Workers      WorkersConfig
	Checkout     CheckoutConfig
	Rent         RentConfig
	Telegram     TelegramConfig
	JWT          JWTConfig
	Webhook      WebhookConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"STOREFRONT_SQLITE_PATH" default:"storefront.db"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite dialect should be used.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

// PakasirConfig holds the admin store credentials and transport settings.
// Tenant 0 and unconfigured tenants fall back to these values.
type PakasirConfig struct {
	BaseURL  string        `envconfig:"STOREFRONT_PAKASIR_BASE_URL" default:"https://app.pakasir.com"`
	Slug     string        `envconfig:"STOREFRONT_PAKASIR_SLUG"`
	APIKey   string        `envconfig:"STOREFRONT_PAKASIR_API_KEY"`
	QRISOnly bool          `envconfig:"STOREFRONT_PAKASIR_QRIS_ONLY" default:"false"`
	Timeout  time.Duration `envconfig:"STOREFRONT_PAKASIR_TIMEOUT" default:"15s"`
}

type WorkersConfig struct {
	OrderPollInterval   time.Duration `envconfig:"STOREFRONT_WORKERS_ORDER_POLL_INTERVAL" default:"90s"`
	DepositPollInterval time.Duration `envconfig:"STOREFRONT_WORKERS_DEPOSIT_POLL_INTERVAL" default:"60s"`
	ExpirySweepInterval time.Duration `envconfig:"STOREFRONT_WORKERS_EXPIRY_SWEEP_INTERVAL" default:"5s"`
	OrderPollLimit      int           `envconfig:"STOREFRONT_WORKERS_ORDER_POLL_LIMIT" default:"15"`
	DepositPollLimit    int           `envconfig:"STOREFRONT_WORKERS_DEPOSIT_POLL_LIMIT" default:"15"`
	ExpirySweepLimit    int           `envconfig:"STOREFRONT_WORKERS_EXPIRY_SWEEP_LIMIT" default:"30"`
	PendingMaxAge       time.Duration `envconfig:"STOREFRONT_WORKERS_PENDING_MAX_AGE" default:"45m"`
	RefreshInterval     time.Duration `envconfig:"STOREFRONT_WORKERS_REFRESH_INTERVAL" default:"20s"`
	PaidRetryMaxAge     time.Duration `envconfig:"STOREFRONT_WORKERS_PAID_RETRY_MAX_AGE" default:"24h"`
	FulfillmentClaimTTL time.Duration `envconfig:"STOREFRONT_WORKERS_FULFILLMENT_CLAIM_TTL" default:"5m"`
	DistributedLock     bool          `envconfig:"STOREFRONT_WORKERS_DISTRIBUTED_LOCK" default:"false"`
	LockTTL             time.Duration `envconfig:"STOREFRONT_WORKERS_LOCK_TTL" default:"5m"`
	MetricsAddr         string        `envconfig:"STOREFRONT_WORKERS_METRICS_ADDR"`
}

type CheckoutConfig struct {
	InvoiceTTL time.Duration `envconfig:"STOREFRONT_CHECKOUT_INVOICE_TTL" default:"10m"`
	MaxQty     int           `envconfig:"STOREFRONT_CHECKOUT_MAX_QTY" default:"50"`
	MinDeposit int64         `envconfig:"STOREFRONT_CHECKOUT_MIN_DEPOSIT" default:"10000"`
	SessionTTL time.Duration `envconfig:"STOREFRONT_CHECKOUT_SESSION_TTL" default:"30m"`
}

type RentConfig struct {
	Plan1M  int64 `envconfig:"STOREFRONT_RENT_PLAN_1M" default:"50000"`
	Plan3M  int64 `envconfig:"STOREFRONT_RENT_PLAN_3M" default:"135000"`
	Plan12M int64 `envconfig:"STOREFRONT_RENT_PLAN_12M" default:"480000"`
}

// PriceFor returns the configured price for a rental duration.
func (r RentConfig) PriceFor(months int) (int64, bool) {
	switch months {
	case 1:
		return r.Plan1M, true
	case 3:
		return r.Plan3M, true
	case 12:
		return r.Plan12M, true
	}
	return 0, false
}

type TelegramConfig struct {
	BotToken string `envconfig:"STOREFRONT_TELEGRAM_BOT_TOKEN"`
	BaseURL  string `envconfig:"STOREFRONT_TELEGRAM_BASE_URL" default:"https://api.telegram.org"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" default:"storefront-core"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

// WebhookConfig throttles the gateway callback endpoint.
type WebhookConfig struct {
	RateWindow time.Duration `envconfig:"STOREFRONT_WEBHOOK_RATE_WINDOW" default:"1m"`
	IPLimit    int           `envconfig:"STOREFRONT_WEBHOOK_IP_LIMIT" default:"120"`
	OrderLimit int           `envconfig:"STOREFRONT_WEBHOOK_ORDER_LIMIT" default:"10"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OpsTopic string `envconfig:"STOREFRONT_PUBSUB_OPS_TOPIC" default:"storefront-ops-events"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"STOREFRONT_KAFKA_BROKERS"`
	Topic   string   `envconfig:"STOREFRONT_KAFKA_TOPIC" default:"storefront.ops-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Sink           string        `envconfig:"STOREFRONT_OUTBOX_SINK" default:"log"`
	RetentionDays  int           `envconfig:"STOREFRONT_OUTBOX_RETENTION_DAYS" default:"30"`
	RetentionEvery time.Duration `envconfig:"STOREFRONT_OUTBOX_RETENTION_INTERVAL" default:"1h"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
	}
	if db.IsSQLite() {
		if db.DSN == "" {
			db.DSN = db.SQLitePath
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
