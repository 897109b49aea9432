package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Tables holds the DynamoDB table names.
type Tables struct {
	Inventory    string
	Cart         string
	Orders       string
	OrderLines   string
	OrderEvents  string
	Payments     string
	Ratings      string
	Products     string
	Availability string
	Addresses    string
	Idempotency  string
}

// Gateway holds the payment provider credentials.
type Gateway struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Currency  string
	Timeout   time.Duration
}

type Config struct {
	AppEnv   string
	LogLevel string
	HTTPAddr string
	RunLocal bool

	Tables         Tables
	QueueURL       string
	MetricsNS      string
	IdempotencyTTL time.Duration

	RedisAddr            string
	AvailabilityCacheTTL time.Duration

	JWTSecret string
	Gateway   Gateway
	Timezone  string
}

// Load reads an optional .env file (path from ENV_FILE, default ".env") and then the
// environment. Variables already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load(getEnv("ENV_FILE", ".env"))

	return Config{
		AppEnv:   getEnv("APP_ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		RunLocal: getEnvBool("RUN_LOCAL", false),
		Tables: Tables{
			Inventory:    getEnv("INVENTORY_TABLE", "inventory"),
			Cart:         getEnv("CART_TABLE", "cart_lines"),
			Orders:       getEnv("ORDERS_TABLE", "orders"),
			OrderLines:   getEnv("ORDER_LINES_TABLE", "order_lines"),
			OrderEvents:  getEnv("ORDER_EVENTS_TABLE", "order_events"),
			Payments:     getEnv("PAYMENTS_TABLE", "payments"),
			Ratings:      getEnv("RATINGS_TABLE", "ratings"),
			Products:     getEnv("PRODUCTS_TABLE", "products"),
			Availability: getEnv("AVAILABILITY_TABLE", "availability"),
			Addresses:    getEnv("ADDRESSES_TABLE", "addresses"),
			Idempotency:  getEnv("IDEMPOTENCY_TABLE", "idempotency"),
		},
		QueueURL:             os.Getenv("ORDERS_QUEUE_URL"),
		MetricsNS:            getEnv("METRICS_NAMESPACE", "OrderLedger"),
		IdempotencyTTL:       getEnvDuration("IDEMPOTENCY_TTL", 48*time.Hour),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		AvailabilityCacheTTL: getEnvDuration("AVAILABILITY_CACHE_TTL", 5*time.Minute),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		Gateway: Gateway{
			KeyID:     os.Getenv("GATEWAY_KEY_ID"),
			KeySecret: os.Getenv("GATEWAY_KEY_SECRET"),
			BaseURL:   getEnv("GATEWAY_BASE_URL", "https://api.razorpay.com"),
			Currency:  getEnv("GATEWAY_CURRENCY", "INR"),
			Timeout:   getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Timezone: getEnv("TIMEZONE", "UTC"),
	}
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
