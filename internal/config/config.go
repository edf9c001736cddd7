// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Config holds all process configuration. Each component receives its slice
// of it through its constructor.
type Config struct {
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripeAPIBase       string `env:"STRIPE_API_BASE" validate:"omitempty,url"`

	DatabaseURL string `env:"DATABASE_URL" validate:"required,url"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" validate:"gt=0"`
	RedisURL    string `env:"REDIS_URL" validate:"omitempty,url"`

	AuthJWTSecret string `env:"AUTH_JWT_SECRET" validate:"required"`
	AuthIssuer    string `env:"AUTH_ISSUER"`

	AppURL      string `env:"APP_URL" validate:"required,http_url"`
	HTTPAddr    string `env:"HTTP_ADDR" validate:"required"`
	Currency    string `env:"BILLING_CURRENCY" validate:"len=3,alpha"`
	PlanType    string `env:"PLAN_TYPE" validate:"required"`
	ProductName string `env:"PRODUCT_NAME" validate:"required"`

	SyncRateLimit  int           `env:"SYNC_RATE_LIMIT" validate:"gt=0"`
	SyncRateWindow time.Duration `env:"SYNC_RATE_WINDOW" validate:"gt=0"`

	// WebhookRateLimit caps deliveries per client IP per minute; 0 disables it
	WebhookRateLimit int `env:"WEBHOOK_RATE_LIMIT" validate:"gte=0"`

	LogLevel  string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" validate:"oneof=json console"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// Default returns the configuration used for every unset optional variable
func Default() Config {
	return Config{
		DBMaxConns:       10,
		HTTPAddr:         ":8080",
		Currency:         "CAD",
		PlanType:         "family",
		ProductName:      "Family Plan",
		SyncRateLimit:    5,
		SyncRateWindow:   time.Minute,
		WebhookRateLimit: 120,
		LogLevel:         "info",
		LogFormat:        "json",
		ShutdownTimeout:  15 * time.Second,
	}
}

// Load reads the given env files (or an optional ./.env when none are given),
// then the process environment, and validates the result.
// Variables already set in the environment take precedence over file values.
func Load(files ...string) (*Config, error) {
	if err := loadEnvFiles(files); err != nil {
		return nil, err
	}
	return FromLookup(os.LookupEnv)
}

// DatabaseURL loads env files like Load but reads and checks only DATABASE_URL
func DatabaseURL(files ...string) (string, error) {
	if err := loadEnvFiles(files); err != nil {
		return "", err
	}
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if err := validator.New().Var(dsn, "required,url"); err != nil {
		return "", fmt.Errorf("%w: DATABASE_URL is required and must be a URL", billing.ErrConfiguration)
	}
	return dsn, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("%w: load env file: %v", billing.ErrConfiguration, err)
	}
	return nil
}

// FromLookup builds a Config from lookup, applying defaults and validation
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("STRIPE_SECRET_KEY", &cfg.StripeSecretKey)
	str("STRIPE_WEBHOOK_SECRET", &cfg.StripeWebhookSecret)
	str("STRIPE_API_BASE", &cfg.StripeAPIBase)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("AUTH_JWT_SECRET", &cfg.AuthJWTSecret)
	str("AUTH_ISSUER", &cfg.AuthIssuer)
	str("APP_URL", &cfg.AppURL)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("BILLING_CURRENCY", &cfg.Currency)
	str("PLAN_TYPE", &cfg.PlanType)
	str("PRODUCT_NAME", &cfg.ProductName)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)

	var errs []error
	if v, ok := lookup("DB_MAX_CONNS"); ok && v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("DB_MAX_CONNS: %w", err))
		}
		cfg.DBMaxConns = int32(n)
	}
	for key, dst := range map[string]*int{
		"SYNC_RATE_LIMIT":    &cfg.SyncRateLimit,
		"WEBHOOK_RATE_LIMIT": &cfg.WebhookRateLimit,
	} {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
			*dst = n
		}
	}
	for key, dst := range map[string]*time.Duration{
		"SYNC_RATE_WINDOW": &cfg.SyncRateWindow,
		"SHUTDOWN_TIMEOUT": &cfg.ShutdownTimeout,
	} {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
			*dst = d
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %v", billing.ErrConfiguration, errors.Join(errs...))
	}

	cfg.Currency = strings.ToUpper(cfg.Currency)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags and reports failures by env variable name
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", billing.ErrConfiguration, err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			problems = append(problems, fe.Field()+" is required")
			continue
		}
		problems = append(problems, fmt.Sprintf("%s fails %s", fe.Field(), strings.TrimSuffix(fe.Tag()+"="+fe.Param(), "=")))
	}
	return fmt.Errorf("%w: %s", billing.ErrConfiguration, strings.Join(problems, "; "))
}
