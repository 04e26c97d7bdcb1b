package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var (
	PORT        string
	DB_URL      string
	JWT_SECRET  string
	CORS_ORIGIN string

	LOG_LEVEL  string
	LOG_FORMAT string

	// Empty REDIS_ADDR keeps reference locks in-process.
	REDIS_ADDR string

	RECEIPT_STORAGE_DIR   string
	RECEIPT_FETCH_TIMEOUT time.Duration

	PAYMENT_AMOUNT_TOLERANCE decimal.Decimal
	RETURN_WINDOW_DAYS       int
	CHECKOUT_TAX_RATE        decimal.Decimal
	CHECKOUT_SHIPPING_FEE    decimal.Decimal
	DEFAULT_CURRENCY         string

	SUBSCRIPTION_SWEEP_CRON string
)

func LoadEnv() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	PORT = getEnv("PORT", "8080")
	DB_URL = mustEnv("DB_URL")
	JWT_SECRET = mustEnv("JWT_SECRET")
	CORS_ORIGIN = getEnv("CORS_ORIGIN", "http://localhost:5173")

	LOG_LEVEL = getEnv("LOG_LEVEL", "info")
	LOG_FORMAT = getEnv("LOG_FORMAT", "json")

	REDIS_ADDR = getEnv("REDIS_ADDR", "")

	RECEIPT_STORAGE_DIR = getEnv("RECEIPT_STORAGE_DIR", "./storage/receipts")
	RECEIPT_FETCH_TIMEOUT = getEnvDuration("RECEIPT_FETCH_TIMEOUT", 20*time.Second)

	PAYMENT_AMOUNT_TOLERANCE = getEnvDecimal("PAYMENT_AMOUNT_TOLERANCE", decimal.NewFromFloat(0.05))
	RETURN_WINDOW_DAYS = getEnvInt("RETURN_WINDOW_DAYS", 30)
	CHECKOUT_TAX_RATE = getEnvDecimal("CHECKOUT_TAX_RATE", decimal.Zero)
	CHECKOUT_SHIPPING_FEE = getEnvDecimal("CHECKOUT_SHIPPING_FEE", decimal.Zero)
	DEFAULT_CURRENCY = getEnv("DEFAULT_CURRENCY", "ETB")

	// robfig/cron spec with seconds field
	SUBSCRIPTION_SWEEP_CRON = getEnv("SUBSCRIPTION_SWEEP_CRON", "0 0 * * * *")
}

func mustEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return v
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid integer for %s=%q, using %d", key, value, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s=%q, using %s", key, value, fallback)
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
		log.Printf("Invalid decimal for %s=%q, using %s", key, value, fallback)
	}
	return fallback
}
