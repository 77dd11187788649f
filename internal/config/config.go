// Package config loads service settings from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv    string `mapstructure:"APP_ENV"`
	Port      string `mapstructure:"PORT"`
	BaseURL   string `mapstructure:"BASE_URL"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	FallbackDBPath      string        `mapstructure:"FALLBACK_DB_PATH"`
	StorageProbeTimeout time.Duration `mapstructure:"STORAGE_PROBE_TIMEOUT"`

	GatewayTimeout   time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	GrantMaxAttempts int           `mapstructure:"GRANT_MAX_ATTEMPTS"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	StripeSecretKey      string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeMonthlyPriceID string `mapstructure:"STRIPE_MONTHLY_PRICE_ID"`
	StripeYearlyPriceID  string `mapstructure:"STRIPE_YEARLY_PRICE_ID"`

	PostmarkToken string        `mapstructure:"POSTMARK_TOKEN"`
	FromEmail     string        `mapstructure:"FROM_EMAIL"`
	NotifyTimeout time.Duration `mapstructure:"NOTIFY_TIMEOUT"`

	// TestMode enables placeholder account provisioning on admin grants.
	TestMode bool `mapstructure:"TEST_MODE"`
}

var defaults = map[string]any{
	"APP_ENV":                 "development",
	"PORT":                    "8080",
	"BASE_URL":                "",
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "text",
	"DATABASE_URL":            "",
	"FALLBACK_DB_PATH":        "bookshelf.db",
	"STORAGE_PROBE_TIMEOUT":   "3s",
	"GATEWAY_TIMEOUT":         "10s",
	"GRANT_MAX_ATTEMPTS":      5,
	"JWT_SECRET":              "",
	"STRIPE_SECRET_KEY":       "",
	"STRIPE_WEBHOOK_SECRET":   "",
	"STRIPE_MONTHLY_PRICE_ID": "",
	"STRIPE_YEARLY_PRICE_ID":  "",
	"POSTMARK_TOKEN":          "",
	"NOTIFY_TIMEOUT":          "5s",
	"FROM_EMAIL":              "",
	"TEST_MODE":               false,
}

// Load reads .env if present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromViper(viper.New())
}

// FromViper resolves the configuration from v, which should already have any
// explicit overrides set.
func FromViper(v *viper.Viper) (Config, error) {
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.TestMode && c.Production() {
		return errors.New("TEST_MODE cannot be enabled when APP_ENV=production")
	}
	if c.GrantMaxAttempts < 1 {
		return fmt.Errorf("GRANT_MAX_ATTEMPTS must be at least 1, got %d", c.GrantMaxAttempts)
	}
	if c.StorageProbeTimeout <= 0 {
		return errors.New("STORAGE_PROBE_TIMEOUT must be positive")
	}
	if c.GatewayTimeout <= 0 {
		return errors.New("GATEWAY_TIMEOUT must be positive")
	}
	if c.NotifyTimeout <= 0 {
		return errors.New("NOTIFY_TIMEOUT must be positive")
	}
	return nil
}
