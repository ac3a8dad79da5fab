package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	KeysOrder string `yaml:"keys_order"`
	Dir       string `yaml:"dir"`
	BotFile   string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// VerificationConfig controls the join-challenge lifecycle.
type VerificationConfig struct {
	// WindowSeconds is how long a new member has to answer the challenge.
	WindowSeconds int `yaml:"window_seconds" envconfig:"VERIFY_WINDOW_SECONDS"`
	// CleanupDelaySeconds is the extra delay after the window before the
	// challenge message is deleted regardless of outcome.
	CleanupDelaySeconds int `yaml:"cleanup_delay_seconds" envconfig:"VERIFY_CLEANUP_DELAY_SECONDS"`
	// DeleteOnResolve deletes the challenge message immediately at the
	// terminal transition instead of waiting for the cleanup timer.
	DeleteOnResolve bool `yaml:"delete_on_resolve" envconfig:"VERIFY_DELETE_ON_RESOLVE"`

	Question      string   `yaml:"question"`
	Options       []string `yaml:"options"`
	CorrectOption string   `yaml:"correct_option"`
}

// Window returns the verification window as a duration.
func (v VerificationConfig) Window() time.Duration {
	return time.Duration(v.WindowSeconds) * time.Second
}

// CleanupDelay returns the post-window cleanup delay as a duration.
func (v VerificationConfig) CleanupDelay() time.Duration {
	return time.Duration(v.CleanupDelaySeconds) * time.Second
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// DatabaseConfig holds audit storage settings. Enabled gates the audit trail
// entirely: when false the bot runs with the in-memory session store only and
// records nothing.
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"DB_ENABLED"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// Config aggregates the whole bot configuration.
type Config struct {
	Telegram     TelegramConfig     `yaml:"telegram"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Logging      LoggingConfig      `yaml:"logging"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Database     DatabaseConfig     `yaml:"database"`
	Verification VerificationConfig `yaml:"verification"`
}

// Defaults taken from the first deployment of the bot. The question is shared
// by all pending users of a deployment round; it is a speed bump, not a
// security mechanism.
const (
	defaultWindowSeconds       = 20
	defaultCleanupDelaySeconds = 10

	defaultQuestion      = "Какой газ оказывает наибольший вклад в общий естественный парниковый эффект Земли?"
	defaultCorrectOption = "Водяной пар"
)

var defaultOptions = []string{"Водяной пар", "Метан", "CO2"}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	if err := normalizeVerification(&cfg.Verification); err != nil {
		return err
	}

	if cfg.Database.Enabled {
		if strings.TrimSpace(cfg.Database.Host) == "" {
			return fmt.Errorf("database.host is required when database.enabled is true")
		}
		if strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.name is required when database.enabled is true")
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 5
		}
	}

	return nil
}

func normalizeVerification(v *VerificationConfig) error {
	if v.WindowSeconds < 0 || v.CleanupDelaySeconds < 0 {
		return fmt.Errorf("verification durations must be >= 0")
	}
	if v.WindowSeconds == 0 {
		v.WindowSeconds = defaultWindowSeconds
	}
	if v.CleanupDelaySeconds == 0 {
		v.CleanupDelaySeconds = defaultCleanupDelaySeconds
	}
	if strings.TrimSpace(v.Question) == "" {
		v.Question = defaultQuestion
	}
	if len(v.Options) == 0 {
		v.Options = append([]string(nil), defaultOptions...)
	}
	if strings.TrimSpace(v.CorrectOption) == "" {
		v.CorrectOption = defaultCorrectOption
	}

	if len(v.Options) < 2 {
		return fmt.Errorf("verification.options must contain at least two options")
	}
	for _, opt := range v.Options {
		if opt == v.CorrectOption {
			return nil
		}
	}
	return fmt.Errorf("verification.correct_option %q is not among verification.options", v.CorrectOption)
}
