package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL == "" {
		t.Error("APIBaseURL default missing")
	}
	if cfg.PaymentPollInterval <= 0 {
		t.Error("PaymentPollInterval must default positive")
	}
	if cfg.PaymentMaxAttempts <= 0 {
		t.Error("PaymentMaxAttempts must default positive")
	}
	if cfg.ChatPollInterval <= 0 {
		t.Error("ChatPollInterval must default positive")
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Errorf("TokenTTL = %s, want 30m", cfg.TokenTTL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORTAL_API_BASE_URL", "http://portal.example.test/api")
	t.Setenv("PAYMENT_POLL_INTERVAL", "500ms")
	t.Setenv("PAYMENT_MAX_ATTEMPTS", "10")
	t.Setenv("CHAT_POLL_INTERVAL", "5") // bare seconds

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "http://portal.example.test/api" {
		t.Errorf("APIBaseURL = %s", cfg.APIBaseURL)
	}
	if cfg.PaymentPollInterval != 500*time.Millisecond {
		t.Errorf("PaymentPollInterval = %s, want 500ms", cfg.PaymentPollInterval)
	}
	if cfg.PaymentMaxAttempts != 10 {
		t.Errorf("PaymentMaxAttempts = %d, want 10", cfg.PaymentMaxAttempts)
	}
	if cfg.ChatPollInterval != 5*time.Second {
		t.Errorf("ChatPollInterval = %s, want 5s", cfg.ChatPollInterval)
	}
}

func TestLoad_RejectsNonPositiveIntervals(t *testing.T) {
	t.Setenv("PAYMENT_POLL_INTERVAL", "-1s")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative payment poll interval")
	}
}
