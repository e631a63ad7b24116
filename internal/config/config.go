package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/nordcart/dibs-gateway/internal/dibs"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	// PublicBaseURL is where DIBS reaches the callback endpoints. Callback
	// URLs must not carry query parameters, DIBS truncates at '?'.
	PublicBaseURL string
	// StorefrontBaseURL hosts the order-received and cart pages shoppers
	// are redirected back to.
	StorefrontBaseURL string

	StoreCurrency string
	Language      string
	TestMode      bool
	// CalcTotals makes the gateway declare the row sum as the order amount
	// instead of the order's stated total.
	CalcTotals      bool
	InvoiceFeeTitle string
	InvoiceFeePrice decimal.Decimal

	// Credentials carries one merchant id / HMAC key pair per invoice
	// market currency (SEK, NOK, DKK).
	Credentials dibs.CredentialSet

	MigrationsDir string

	ReconcileLockTTL   time.Duration
	CallbackRateMax    int
	CallbackRateWindow time.Duration
}

// Load reads configuration from environment variables and an optional .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	feePrice, err := parseDecimal(k.String("DIBS_INVOICE_FEE_PRICE"))
	if err != nil {
		return nil, fmt.Errorf("DIBS_INVOICE_FEE_PRICE: %w", err)
	}

	cfg := &Config{
		AppEnv:            valueOrDefault(k.String("APP_ENV"), "development"),
		Port:              valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:       k.String("DATABASE_URL"),
		RedisURL:          k.String("REDIS_URL"),
		PublicBaseURL:     strings.TrimRight(k.String("PUBLIC_BASE_URL"), "/"),
		StorefrontBaseURL: strings.TrimRight(k.String("STOREFRONT_BASE_URL"), "/"),
		StoreCurrency:     strings.ToUpper(valueOrDefault(k.String("STORE_CURRENCY"), "SEK")),
		Language:          strings.TrimSpace(k.String("DIBS_LANGUAGE")),
		TestMode:          parseBool(valueOrDefault(k.String("DIBS_TEST_MODE"), "true")),
		CalcTotals:        parseBool(k.String("DIBS_CALC_TOTALS")),
		InvoiceFeeTitle:   strings.TrimSpace(k.String("DIBS_INVOICE_FEE_TITLE")),
		InvoiceFeePrice:   feePrice,
		Credentials: dibs.CredentialSet{
			"SEK": {MerchantID: k.String("DIBS_MERCHANT_ID_SE"), HMACKey: k.String("DIBS_HMAC_KEY_SE")},
			"NOK": {MerchantID: k.String("DIBS_MERCHANT_ID_NO"), HMACKey: k.String("DIBS_HMAC_KEY_NO")},
			"DKK": {MerchantID: k.String("DIBS_MERCHANT_ID_DK"), HMACKey: k.String("DIBS_HMAC_KEY_DK")},
		},
		MigrationsDir:      valueOrDefault(k.String("MIGRATIONS_DIR"), "db/migrations"),
		ReconcileLockTTL:   parseDuration(k.String("RECONCILE_LOCK_TTL"), "30s"),
		CallbackRateMax:    parseInt(k.String("CALLBACK_RATE_MAX"), 60),
		CallbackRateWindow: parseDuration(k.String("CALLBACK_RATE_WINDOW"), "1m"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("PUBLIC_BASE_URL is required")
	}
	if cfg.StorefrontBaseURL == "" {
		cfg.StorefrontBaseURL = cfg.PublicBaseURL
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// CallbackURL is the endpoint DIBS posts accept notifications to.
func (c *Config) CallbackURL() string {
	return c.PublicBaseURL + "/webhooks/dibs/callback"
}

// CancelReturnURL is the endpoint DIBS sends cancelling shoppers to.
func (c *Config) CancelReturnURL() string {
	return c.PublicBaseURL + "/webhooks/dibs/cancel"
}

// ThankYouURL is the storefront order-received destination for an order.
func (c *Config) ThankYouURL(orderID int64) string {
	return fmt.Sprintf("%s/checkout/order-received/%d", c.StorefrontBaseURL, orderID)
}

// CartURL is the storefront cart page cancellations return to.
func (c *Config) CartURL() string {
	return c.StorefrontBaseURL + "/cart"
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseDecimal(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(trimmed)
}

// LoadForTests overrides environment variables for the duration of a single
// Load call and restores them afterwards.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
