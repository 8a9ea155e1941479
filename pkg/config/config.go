package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL      string
	RedisPassword string

	// JWT configuration
	JWTSecret string

	// EncryptionKey is the base64-encoded 32-byte key used to decrypt
	// stored exchange credentials.
	EncryptionKey string

	// QStash queue-provider configuration. Two signing keys rotate:
	// callbacks are verified against the current key, then the next.
	QStashToken             string
	QStashCurrentSigningKey string
	QStashNextSigningKey    string

	// Payment-provider webhook endpoint secret.
	PaymentWebhookSecret string

	// Quote provider API keys
	BrAPIKey         string
	TwelveDataAPIKey string
	CoinGeckoAPIKey  string

	// B3 investor API OAuth client credentials
	B3ClientID     string
	B3ClientSecret string

	FrontendBaseURL string
	// PublicBaseURL is the externally visible API URL; queue-provider
	// signatures are verified against it.
	PublicBaseURL            string
	DefaultTrialPeriodInDays int

	// BinanceSymbols is the trade-pair watchlist walked during Binance
	// ingestion, which only exposes per-pair history.
	BinanceSymbols []string

	// Monthly-sell tax-exemption thresholds per asset type, in the
	// asset currency.
	StocksMonthlySellExemptionThreshold    decimal.Decimal
	StocksUSAMonthlySellExemptionThreshold decimal.Decimal
	CryptosMonthlySellExemptionThreshold   decimal.Decimal
	FIIMonthlySellExemptionThreshold       decimal.Decimal

	// CryptosToSkipIntegration lists symbols ignored during exchange
	// ingestion (stablecoins used as cash legs, dust tokens).
	CryptosToSkipIntegration []string
	// USDCryptoSymbols lists symbols whose pairs are treated as
	// dollar-denominated (USDT collapses to DOLLAR).
	USDCryptoSymbols []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                     getEnv("PORT", "8080"),
		Env:                      getEnv("ENV", "development"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		RedisURL:                 getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:            getEnv("REDIS_PASSWORD", ""),
		JWTSecret:                getEnv("JWT_SECRET", ""),
		EncryptionKey:            getEnv("ENCRYPTION_KEY", ""),
		QStashToken:              getEnv("QSTASH_TOKEN", ""),
		QStashCurrentSigningKey:  getEnv("QSTASH_CURRENT_SIGNING_KEY", ""),
		QStashNextSigningKey:     getEnv("QSTASH_NEXT_SIGNING_KEY", ""),
		PaymentWebhookSecret:     getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		BrAPIKey:                 getEnv("BRAPI_API_KEY", ""),
		TwelveDataAPIKey:         getEnv("TWELVE_DATA_API_KEY", ""),
		CoinGeckoAPIKey:          getEnv("COINGECKO_API_KEY", ""),
		B3ClientID:               getEnv("B3_CLIENT_ID", ""),
		B3ClientSecret:           getEnv("B3_CLIENT_SECRET", ""),
		FrontendBaseURL:          getEnv("FRONTEND_BASE_URL", "http://localhost:5173"),
		PublicBaseURL:            getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DefaultTrialPeriodInDays: getEnvAsInt("DEFAULT_TRIAL_PERIOD_IN_DAYS", 30),

		BinanceSymbols: getEnvAsList("BINANCE_SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT"),

		StocksMonthlySellExemptionThreshold:    getEnvAsDecimal("STOCKS_MONTHLY_SELL_EXEMPTION_THRESHOLD", "20000"),
		StocksUSAMonthlySellExemptionThreshold: getEnvAsDecimal("STOCKS_USA_MONTHLY_SELL_EXEMPTION_THRESHOLD", "35000"),
		CryptosMonthlySellExemptionThreshold:   getEnvAsDecimal("CRYPTOS_MONTHLY_SELL_EXEMPTION_THRESHOLD", "35000"),
		FIIMonthlySellExemptionThreshold:       getEnvAsDecimal("FII_MONTHLY_SELL_EXEMPTION_THRESHOLD", "0"),

		CryptosToSkipIntegration: getEnvAsList("CRYPTOS_TO_SKIP_INTEGRATION", "USDT,USDC,BUSD"),
		USDCryptoSymbols:         getEnvAsList("USD_CRYPTO_SYMBOLS", "USDT,USDC,BUSD,DAI"),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	// Webhook signing keys are required in production but optional in
	// development, where jobs can be triggered directly.
	if c.IsProduction() {
		if c.QStashCurrentSigningKey == "" || c.QStashNextSigningKey == "" {
			return fmt.Errorf("QSTASH signing keys are required in production")
		}
		if c.PaymentWebhookSecret == "" {
			return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required in production")
		}
		if c.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required in production")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MonthlySellThresholds maps the lowercase asset-type name to its
// exemption threshold.
func (c *Config) MonthlySellThresholds() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"stock":     c.StocksMonthlySellExemptionThreshold,
		"stock_usa": c.StocksUSAMonthlySellExemptionThreshold,
		"crypto":    c.CryptosMonthlySellExemptionThreshold,
		"fii":       c.FIIMonthlySellExemptionThreshold,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDecimal gets an environment variable as a decimal with a default value
func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(defaultValue)
}

// getEnvAsList gets a comma-separated environment variable as a string slice
func getEnvAsList(key, defaultValue string) []string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
