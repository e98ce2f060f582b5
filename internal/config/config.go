// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionMaxAge int

	// Loan
	LoanTxTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitBorrow  int

	// Auth
	BcryptCost int

	// Catalog import
	CatalogFetchTimeout  time.Duration
	CatalogFetchMaxSize  int64
	CatalogDefaultCopies int

	// Report cache (Redis). 空ならキャッシュなし
	RedisURL       string
	ReportCacheTTL time.Duration

	// Loan events (AMQP). 空ならイベント発行なし
	AMQPURL      string
	AMQPExchange string

	// Worker
	SessionCleanupInterval time.Duration

	// Pagination
	DefaultPageSize int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.LoanTxTimeout = getEnvDuration("LOAN_TX_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitBorrow = getEnvInt("RATE_LIMIT_BORROW", 20)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.CatalogFetchTimeout = getEnvDuration("CATALOG_FETCH_TIMEOUT", 10*time.Second)
	cfg.CatalogFetchMaxSize = getEnvInt64("CATALOG_FETCH_MAX_SIZE", 5242880)
	cfg.CatalogDefaultCopies = getEnvInt("CATALOG_DEFAULT_COPIES", 1)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.ReportCacheTTL = getEnvDuration("REPORT_CACHE_TTL", 5*time.Minute)
	cfg.AMQPURL = getEnvString("AMQP_URL", "")
	cfg.AMQPExchange = getEnvString("AMQP_EXCHANGE", "perpus.loans")
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.DefaultPageSize = getEnvInt("DEFAULT_PAGE_SIZE", 10)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.LoanTxTimeout <= 0 {
		return nil, fmt.Errorf("LOAN_TX_TIMEOUT must be positive: %v", cfg.LoanTxTimeout)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
