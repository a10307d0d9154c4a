package config

// EnvPrefix is the envconfig prefix shared by every process.
const EnvPrefix = "HABITS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv       = "HABITS_APP_ENV"
	EnvPort         = "HABITS_APP_PORT"
	EnvLogLevel     = "HABITS_LOG_LEVEL"
	EnvLogWarnStack = "HABITS_LOG_WARN_STACK"

	EnvDBDSN      = "HABITS_DB_DSN"
	EnvDBHost     = "HABITS_DB_HOST"
	EnvDBPort     = "HABITS_DB_PORT"
	EnvDBUser     = "HABITS_DB_USER"
	EnvDBPassword = "HABITS_DB_PASSWORD"
	EnvDBName     = "HABITS_DB_NAME"
	EnvDBSSLMode  = "HABITS_DB_SSLMODE"

	EnvRedisURL = "HABITS_REDIS_URL"

	EnvJWTSecret = "HABITS_JWT_SECRET"
	EnvJWTIssuer = "HABITS_JWT_ISSUER"

	EnvStripeAPIKey        = "HABITS_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "HABITS_STRIPE_WEBHOOK_SECRET"
	EnvStripePlusPriceID   = "HABITS_STRIPE_PLUS_PRICE_ID"
	EnvStripeProPriceID    = "HABITS_STRIPE_PRO_PRICE_ID"

	EnvBillingGracePeriod        = "HABITS_BILLING_GRACE_PERIOD"
	EnvBillingSignatureTolerance = "HABITS_BILLING_SIGNATURE_TOLERANCE"
	EnvEntitlementCacheTTL       = "HABITS_ENTITLEMENT_CACHE_TTL"

	EnvCronInterval = "HABITS_CRON_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
