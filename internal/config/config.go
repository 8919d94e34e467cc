package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string
	AppPort    string
	AppEnv     string
	JWTSecret  string

	RedisAddr string
	AMQPURL   string

	Dragonpay Dragonpay
	NinjaVan  NinjaVan
	Shipping  Shipping
	Schedules Schedules
	RateLimit RateLimit

	// Frontend base URL the payment return handler redirects to.
	PaymentReturnURL string
	TracingEnabled   bool
}

type Dragonpay struct {
	MerchantID string
	SecretKey  string
	PayURL     string
	APIURL     string
	Currency   string
}

type NinjaVan struct {
	BaseURL      string
	Country      string
	ClientID     string
	ClientSecret string
	ShipperName  string
	ShipperPhone string
	ShipperEmail string
	ShipperAddr  string
	ShipperCity  string
	ShipperPost  string
}

type Shipping struct {
	MetroFee      decimal.Decimal
	ProvincialFee decimal.Decimal
}

type Schedules struct {
	PaymentTimeout       time.Duration
	TimeoutSweepInterval time.Duration
	SweepItemDelay       time.Duration
	CompletionGrace      time.Duration
	AutoCompleteInterval time.Duration
}

type RateLimit struct {
	CheckoutPerMinute int
	WebhookPerMinute  int
	GeneralPerMinute  int
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		AppPort:    getEnv("APP_PORT", "8080"),
		AppEnv:     getEnv("APP_ENV", "development"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		RedisAddr:  os.Getenv("REDIS_ADDR"),
		AMQPURL:    os.Getenv("AMQP_URL"),
		Dragonpay: Dragonpay{
			MerchantID: os.Getenv("DRAGONPAY_MERCHANT_ID"),
			SecretKey:  os.Getenv("DRAGONPAY_SECRET_KEY"),
			PayURL:     getEnv("DRAGONPAY_PAY_URL", "https://test.dragonpay.ph/Pay.aspx"),
			APIURL:     getEnv("DRAGONPAY_API_URL", "https://test.dragonpay.ph/api/collect/v1"),
			Currency:   getEnv("DRAGONPAY_CURRENCY", "PHP"),
		},
		NinjaVan: NinjaVan{
			BaseURL:      getEnv("NINJAVAN_BASE_URL", "https://api-sandbox.ninjavan.co"),
			Country:      getEnv("NINJAVAN_COUNTRY", "SG"),
			ClientID:     os.Getenv("NINJAVAN_CLIENT_ID"),
			ClientSecret: os.Getenv("NINJAVAN_CLIENT_SECRET"),
			ShipperName:  os.Getenv("NINJAVAN_SHIPPER_NAME"),
			ShipperPhone: os.Getenv("NINJAVAN_SHIPPER_PHONE"),
			ShipperEmail: os.Getenv("NINJAVAN_SHIPPER_EMAIL"),
			ShipperAddr:  os.Getenv("NINJAVAN_SHIPPER_ADDRESS"),
			ShipperCity:  os.Getenv("NINJAVAN_SHIPPER_CITY"),
			ShipperPost:  os.Getenv("NINJAVAN_SHIPPER_POSTCODE"),
		},
		Shipping: Shipping{
			MetroFee:      getEnvDecimal("SHIPPING_FEE_METRO", decimal.NewFromInt(100)),
			ProvincialFee: getEnvDecimal("SHIPPING_FEE_PROVINCIAL", decimal.NewFromInt(180)),
		},
		Schedules: Schedules{
			PaymentTimeout:       getEnvDuration("PAYMENT_TIMEOUT", 3*time.Hour),
			TimeoutSweepInterval: getEnvDuration("TIMEOUT_SWEEP_INTERVAL", 30*time.Minute),
			SweepItemDelay:       getEnvDuration("SWEEP_ITEM_DELAY", 250*time.Millisecond),
			CompletionGrace:      getEnvDuration("COMPLETION_GRACE", 7*24*time.Hour),
			AutoCompleteInterval: getEnvDuration("AUTO_COMPLETE_INTERVAL", time.Hour),
		},
		RateLimit: RateLimit{
			CheckoutPerMinute: getEnvInt("RATE_LIMIT_CHECKOUT", 10),
			WebhookPerMinute:  getEnvInt("RATE_LIMIT_WEBHOOK", 600),
			GeneralPerMinute:  getEnvInt("RATE_LIMIT_GENERAL", 120),
		},
		PaymentReturnURL: getEnv("PAYMENT_RETURN_URL", "http://localhost:3000"),
		TracingEnabled:   os.Getenv("OTEL_TRACING") == "true",
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
