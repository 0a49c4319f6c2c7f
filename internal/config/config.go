package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env        string // dev, prod
	APIBaseURL string // portal backend base URL, e.g. http://localhost:8080/api

	HTTPTimeout         time.Duration // per-request timeout for client calls
	PaymentPollInterval time.Duration // delay between checkout status queries
	PaymentMaxAttempts  int           // status queries before giving up as unknown
	ChatPollInterval    time.Duration // delay between conversation refreshes

	CredentialSlotPath string // where the bearer credential is persisted; empty = user config dir

	// Dev server settings.
	DevServerPort          string
	JWTSecret              string
	TokenTTL               time.Duration
	GatewayPollsUntilFinal int // status queries before a fake checkout session resolves
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:                    getEnv("APP_ENV", "dev"),
		APIBaseURL:             getEnv("PORTAL_API_BASE_URL", "http://localhost:8080/api"),
		HTTPTimeout:            getDuration("HTTP_TIMEOUT", 10*time.Second),
		PaymentPollInterval:    getDuration("PAYMENT_POLL_INTERVAL", 2*time.Second),
		PaymentMaxAttempts:     getInt("PAYMENT_MAX_ATTEMPTS", 150),
		ChatPollInterval:       getDuration("CHAT_POLL_INTERVAL", 3*time.Second),
		CredentialSlotPath:     os.Getenv("CREDENTIAL_SLOT_PATH"),
		DevServerPort:          getEnv("DEVSERVER_PORT", "8080"),
		JWTSecret:              getEnv("JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:               getDuration("TOKEN_TTL", 30*time.Minute),
		GatewayPollsUntilFinal: getInt("GATEWAY_POLLS_UNTIL_FINAL", 3),
	}

	if cfg.PaymentPollInterval <= 0 {
		return Config{}, fmt.Errorf("PAYMENT_POLL_INTERVAL must be positive")
	}
	if cfg.ChatPollInterval <= 0 {
		return Config{}, fmt.Errorf("CHAT_POLL_INTERVAL must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		fmt.Fprintf(os.Stderr, "invalid duration for %s=%q, using default %s\n", key, v, def)
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
