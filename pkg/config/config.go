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
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	Entitlements EntitlementsConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"HABITS_APP_ENV" required:"true"`
	Port         string `envconfig:"HABITS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"HABITS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"HABITS_LOG_WARN_STACK" default:"false"`
	FrontendURL  string `envconfig:"HABITS_FRONTEND_URL" default:"http://localhost:5173"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"HABITS_DB_DSN"`
	Driver string `envconfig:"HABITS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"HABITS_DB_HOST"`
	LegacyPort     int    `envconfig:"HABITS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"HABITS_DB_USER"`
	LegacyPassword string `envconfig:"HABITS_DB_PASSWORD"`
	LegacyName     string `envconfig:"HABITS_DB_NAME"`
	LegacySSLMode  string `envconfig:"HABITS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"HABITS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"HABITS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"HABITS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"HABITS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"HABITS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"HABITS_REDIS_ADDR"`
	Password     string        `envconfig:"HABITS_REDIS_PASSWORD"`
	DB           int           `envconfig:"HABITS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"HABITS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"HABITS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"HABITS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"HABITS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"HABITS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"HABITS_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"HABITS_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"HABITS_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"HABITS_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"HABITS_STRIPE_WEBHOOK_SECRET" required:"true"`
	Env           string `envconfig:"HABITS_STRIPE_ENV" default:"test"`
	PlusPriceID   string `envconfig:"HABITS_STRIPE_PLUS_PRICE_ID"`
	ProPriceID    string `envconfig:"HABITS_STRIPE_PRO_PRICE_ID"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// BillingConfig tunes the subscription lifecycle.
type BillingConfig struct {
	GracePeriod        time.Duration `envconfig:"HABITS_BILLING_GRACE_PERIOD" default:"168h"`
	SignatureTolerance time.Duration `envconfig:"HABITS_BILLING_SIGNATURE_TOLERANCE" default:"5m"`
	MaxWebhookBytes    int64         `envconfig:"HABITS_BILLING_MAX_WEBHOOK_BYTES" default:"1048576"`
}

func (b BillingConfig) validate() error {
	if b.GracePeriod <= 0 {
		return fmt.Errorf("%s must be positive", EnvBillingGracePeriod)
	}
	if b.SignatureTolerance <= 0 {
		return fmt.Errorf("%s must be positive", EnvBillingSignatureTolerance)
	}
	return nil
}

type EntitlementsConfig struct {
	CacheTTL            time.Duration `envconfig:"HABITS_ENTITLEMENT_CACHE_TTL" default:"5m"`
	SweepInterval       time.Duration `envconfig:"HABITS_ENTITLEMENT_CACHE_SWEEP_INTERVAL" default:"10m"`
	InvalidationChannel string        `envconfig:"HABITS_ENTITLEMENT_INVALIDATION_CHANNEL" default:"entitlements:invalidate"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"HABITS_CRON_INTERVAL" default:"5m"`
	LockTTL         time.Duration `envconfig:"HABITS_CRON_LOCK_TTL" default:"4m"`
	GraceBatchLimit int           `envconfig:"HABITS_CRON_GRACE_BATCH_LIMIT" default:"250"`
	EventRetention  time.Duration `envconfig:"HABITS_CRON_EVENT_RETENTION"`
	MetricsAddr     string        `envconfig:"HABITS_CRON_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
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
