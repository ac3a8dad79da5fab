package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			Token:   "123:abc",
			RunMode: "longpoll",
		},
	}
}

func TestNormalizeAppliesVerificationDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	v := cfg.Verification
	if v.WindowSeconds != 20 {
		t.Fatalf("expected default window 20s, got %d", v.WindowSeconds)
	}
	if v.CleanupDelaySeconds != 10 {
		t.Fatalf("expected default cleanup delay 10s, got %d", v.CleanupDelaySeconds)
	}
	if v.Question == "" {
		t.Fatal("expected default question")
	}
	if len(v.Options) != 3 {
		t.Fatalf("expected 3 default options, got %d", len(v.Options))
	}
	if v.CorrectOption != v.Options[0] {
		t.Fatalf("expected correct option to be first default option, got %q", v.CorrectOption)
	}
}

func TestNormalizeRejectsUnknownCorrectOption(t *testing.T) {
	cfg := validConfig()
	cfg.Verification = VerificationConfig{
		Question:      "2+2?",
		Options:       []string{"3", "5"},
		CorrectOption: "4",
	}
	err := Normalize(cfg)
	if err == nil {
		t.Fatal("expected error for correct option outside options")
	}
	if !strings.Contains(err.Error(), "correct_option") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeRejectsSingleOption(t *testing.T) {
	cfg := validConfig()
	cfg.Verification = VerificationConfig{
		Question:      "2+2?",
		Options:       []string{"4"},
		CorrectOption: "4",
	}
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for less than two options")
	}
}

func TestNormalizeRunModeAlias(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = "polling"
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("expected alias to normalize to longpoll, got %q", cfg.Telegram.RunMode)
	}
}

func TestNormalizeRequiresToken(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Token = ""
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestNormalizeWebhookRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = RunModeWebhook
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for missing webhook settings")
	}

	cfg.Webhook = WebhookConfig{URL: "https://example.com/hook", Listen: "0.0.0.0", Port: 8443}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
}

func TestNormalizeDatabaseRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Enabled = true
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for enabled database without host")
	}

	cfg.Database.Host = "localhost"
	cfg.Database.Name = "doorman"
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if cfg.Database.MaxConnections != 5 {
		t.Fatalf("expected default max connections 5, got %d", cfg.Database.MaxConnections)
	}
}

func TestVerificationDurations(t *testing.T) {
	v := VerificationConfig{WindowSeconds: 20, CleanupDelaySeconds: 10}
	if v.Window().Seconds() != 20 {
		t.Fatalf("unexpected window: %v", v.Window())
	}
	if v.CleanupDelay().Seconds() != 10 {
		t.Fatalf("unexpected cleanup delay: %v", v.CleanupDelay())
	}
}
