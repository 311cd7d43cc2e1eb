// Package config defines the process configuration for the metering engine.
// Configuration is loaded once at startup and immutable thereafter, following
// 12-Factor principles: values come from the OS environment, optionally
// seeded from a dotenv file in local development. A missing required value or
// invalid format fails startup immediately.
package config

import (
	"time"

	"metergate/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"metergate"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Billing  BillingConfig
	Catalog  CatalogConfig
	Jobs     JobsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EventsQueue string `envconfig:"SQS_EVENTS" validate:"required,url"`

	// LocalStack support, empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe integration settings. StripePriceIDs maps plan
// codes to Stripe price IDs as JSON, e.g. {"starter":"price_123",...}.
type BillingConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripePriceIDs  string       `envconfig:"STRIPE_PRICE_IDS_JSON" validate:"required,json"`
}

// CatalogConfig holds the optional plan-catalog override. Empty means the
// built-in default catalog.
type CatalogConfig struct {
	OverrideJSON string `envconfig:"CATALOG_JSON"`
}

// JobsConfig tunes the scheduled maintenance jobs.
type JobsConfig struct {
	TenantPageSize  int `envconfig:"JOB_TENANT_PAGE_SIZE" default:"200"`
	WorkerPoolSize  int `envconfig:"JOB_WORKER_POOL_SIZE" default:"8"`
	AuditKeepMonths int `envconfig:"JOB_AUDIT_KEEP_MONTHS" default:"13"`
}
