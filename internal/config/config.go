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

	// Redis（未設定の場合は利用量カウンタをPostgreSQLに保存する）
	RedisURL string

	// Identity
	EmailDomain string

	// Admin
	AdminEmails string

	// Monetization
	MonetizationEnabled bool
	PlansFile           string

	// Inbound
	InboundWebhookSecret string
	InboundMaxBodySize   int64
	InboundRetentionDays int

	// Rate Limit
	RateLimitGeneral int
	RateLimitInbound int

	// Shutdown
	ShutdownTimeout time.Duration

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.EmailDomain = strings.ToLower(strings.TrimSpace(getEnvString("EMAIL_DOMAIN", "localhost")))
	cfg.AdminEmails = getEnvString("ADMIN_EMAILS", "")
	cfg.MonetizationEnabled = getEnvBool("MONETIZATION_ENABLED", false)
	cfg.PlansFile = getEnvString("PLANS_FILE", "")
	cfg.InboundWebhookSecret = getEnvString("INBOUND_WEBHOOK_SECRET", "")
	cfg.InboundMaxBodySize = getEnvInt64("INBOUND_MAX_BODY_SIZE", 10485760)
	cfg.InboundRetentionDays = getEnvInt("INBOUND_RETENTION_DAYS", 30)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitInbound = getEnvInt("RATE_LIMIT_INBOUND", 60)
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
