package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Run("FromEnvironment", func(t *testing.T) {
		env := map[string]string{
			"DB_HOST":               "db.internal",
			"DB_PORT":               "5433",
			"DB_NAME":               "pakbet",
			"DB_USER":               "orders",
			"DB_PASSWORD":           "secret",
			"DB_SSLMODE":            "require",
			"APP_PORT":              "9090",
			"APP_ENV":               "staging",
			"DRAGONPAY_MERCHANT_ID": "PAKBET",
			"DRAGONPAY_SECRET_KEY":  "s3cret",
			"PAYMENT_TIMEOUT":       "90m",
			"SHIPPING_FEE_METRO":    "85.50",
			"RATE_LIMIT_CHECKOUT":   "5",
		}
		for k, v := range env {
			t.Setenv(k, v)
		}

		cfg := LoadConfig()

		assert.Equal(t, "db.internal", cfg.DBHost)
		assert.Equal(t, "5433", cfg.DBPort)
		assert.Equal(t, "pakbet", cfg.DBName)
		assert.Equal(t, "orders", cfg.DBUser)
		assert.Equal(t, "secret", cfg.DBPassword)
		assert.Equal(t, "require", cfg.DBSSLMode)
		assert.Equal(t, "9090", cfg.AppPort)
		assert.Equal(t, "staging", cfg.AppEnv)
		assert.Equal(t, "PAKBET", cfg.Dragonpay.MerchantID)
		assert.Equal(t, "s3cret", cfg.Dragonpay.SecretKey)
		assert.Equal(t, 90*time.Minute, cfg.Schedules.PaymentTimeout)
		assert.True(t, decimal.RequireFromString("85.50").Equal(cfg.Shipping.MetroFee))
		assert.Equal(t, 5, cfg.RateLimit.CheckoutPerMinute)
	})

	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("DB_HOST", "localhost")
		t.Setenv("APP_PORT", "")
		t.Setenv("DB_SSLMODE", "")
		t.Setenv("PAYMENT_TIMEOUT", "")
		t.Setenv("COMPLETION_GRACE", "not-a-duration")

		cfg := LoadConfig()

		assert.Equal(t, "8080", cfg.AppPort)
		assert.Equal(t, "disable", cfg.DBSSLMode)
		assert.Equal(t, "PHP", cfg.Dragonpay.Currency)
		assert.Equal(t, 3*time.Hour, cfg.Schedules.PaymentTimeout)
		assert.Equal(t, 30*time.Minute, cfg.Schedules.TimeoutSweepInterval)
		assert.Equal(t, 7*24*time.Hour, cfg.Schedules.CompletionGrace)
		assert.Equal(t, time.Hour, cfg.Schedules.AutoCompleteInterval)
	})
}
