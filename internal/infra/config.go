package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	StripeWebhookSecret string

	VideoAPIBaseURL string
	VideoAPIKey     string
	VideoAPITimeout time.Duration

	SendGridAPIKey string
	MailFrom       string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string

	StoreTimeout       time.Duration
	WorkerPollInterval time.Duration
	StaleCheckAfter    time.Duration
	SweepInterval      time.Duration

	// CancelRefundPercent is the share of reserved credits returned for a
	// cancelled job. Failed jobs always refund in full.
	CancelRefundPercent int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		VideoAPIBaseURL: getEnv("VIDEO_API_BASE_URL", "https://api.klingai.com"),
		VideoAPIKey:     os.Getenv("VIDEO_API_KEY"),
		VideoAPITimeout: time.Second * time.Duration(getEnvInt("VIDEO_API_TIMEOUT_SECONDS", 30)),

		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		MailFrom:       getEnv("MAIL_FROM", "noreply@example.com"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitEnvList("CORS_ALLOWED_ORIGINS"),

		StoreTimeout:       time.Second * time.Duration(getEnvInt("STORE_TIMEOUT_SECONDS", 5)),
		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 5)),
		StaleCheckAfter:    time.Second * time.Duration(getEnvInt("STALE_CHECK_AFTER_SECONDS", 30)),
		SweepInterval:      time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 300)),

		CancelRefundPercent: getEnvInt("CANCEL_REFUND_PERCENT", 100),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.CancelRefundPercent < 0 || cfg.CancelRefundPercent > 100 {
		return nil, fmt.Errorf("CANCEL_REFUND_PERCENT must be within 0..100")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
