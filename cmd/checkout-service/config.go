package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/checkout-engine/internal/repository"
	"github.com/fjod/checkout-engine/internal/service"
	"github.com/shopspring/decimal"
)

const (
	storageMemory   = "memory"
	storagePostgres = "postgres"
)

type Config struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	StorageDriver string
	DB            repository.Credentials

	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string

	PaymentProviderURL string
	PaymentAPIKey      string
	PaymentTimeout     time.Duration
	WebhookSecret      string

	DecrementPoint   service.DecrementPoint
	ShippingFlat     int64
	FreeShippingOver int64
	TaxRate          decimal.Decimal
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("PORT", "8080"),
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		StorageDriver:   getEnv("STORAGE_DRIVER", storagePostgres),
		DB: repository.Credentials{
			Host:              getEnv("DB_HOST", "localhost"),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "checkout"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		PaymentProviderURL: getEnv("PAYMENT_PROVIDER_URL", ""),
		PaymentAPIKey:      getEnv("PAYMENT_PROVIDER_API_KEY", ""),
		PaymentTimeout:     10 * time.Second,
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
	}

	var err error
	if cfg.DB.Port, err = strconv.Atoi(getEnv("DB_PORT", "5432")); err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	switch cfg.StorageDriver {
	case storageMemory, storagePostgres:
	default:
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q: want %s or %s", cfg.StorageDriver, storageMemory, storagePostgres)
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if cfg.DecrementPoint, err = service.ParseDecrementPoint(getEnv("STOCK_DECREMENT_POINT", "")); err != nil {
		return nil, err
	}
	if cfg.ShippingFlat, err = parseMinor("SHIPPING_FLAT", "0"); err != nil {
		return nil, err
	}
	if cfg.FreeShippingOver, err = parseMinor("FREE_SHIPPING_OVER", "0"); err != nil {
		return nil, err
	}
	if cfg.TaxRate, err = decimal.NewFromString(getEnv("TAX_RATE", "0")); err != nil {
		return nil, fmt.Errorf("invalid TAX_RATE: %w", err)
	}
	if cfg.TaxRate.IsNegative() {
		return nil, fmt.Errorf("invalid TAX_RATE: must not be negative")
	}
	if timeout := getEnv("REQUEST_TIMEOUT", ""); timeout != "" {
		if cfg.RequestTimeout, err = time.ParseDuration(timeout); err != nil {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
	}
	return cfg, nil
}

// parseMinor reads an amount in minor units.
func parseMinor(key, defaultValue string) (int64, error) {
	v, err := strconv.ParseInt(getEnv(key, defaultValue), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return v, nil
}
