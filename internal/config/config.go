package config

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	DBMaxOpenConns  int           `envconfig:"DB_MAX_OPEN_CONNS" default:"30"`
	DBMaxIdleConns  int           `envconfig:"DB_MAX_IDLE_CONNS" default:"8"`
	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	ReceiptCacheTTL time.Duration `envconfig:"RECEIPT_CACHE_TTL" default:"10m"`
	// PurchaseMaxRetries bounds attempts per purchase when storage reports a
	// lost row race. Business-rule rejections are never retried.
	PurchaseMaxRetries int    `envconfig:"PURCHASE_MAX_RETRIES" default:"3"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat          string `envconfig:"LOG_FORMAT" default:"json"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if cfg.PurchaseMaxRetries < 1 {
		return Config{}, errors.New("PURCHASE_MAX_RETRIES must be at least 1")
	}
	if cfg.ReceiptCacheTTL <= 0 {
		return Config{}, errors.New("RECEIPT_CACHE_TTL must be positive")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return Config{}, errors.New("LOG_FORMAT must be json or console")
	}
	return cfg, nil
}

// UsePostgres reports whether a database is configured; otherwise the
// in-memory repository is used.
func (c Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}
