// Package config loads settings from an optional YAML file with environment
// variable overrides. Environment wins over file, file wins over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses "250ms"/"2m" style YAML values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	DatabaseURL string `yaml:"database_url"`
	NatsURL     string `yaml:"nats_url"`
	NatsToken   string `yaml:"nats_token"`

	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`

	// Timezone is the IANA zone used for date phrases that carry no
	// explicit zone of their own.
	Timezone string `yaml:"timezone"`

	// AgentAddress is the mailbox the assistant reads. It is excluded
	// from attendee lists.
	AgentAddress string `yaml:"agent_address"`
	CalendarID   string `yaml:"calendar_id"`

	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`

	MinConfidence          float64 `yaml:"min_confidence"`
	DefaultDurationMinutes int     `yaml:"default_duration_minutes"`

	MaxSyncAttempts  int      `yaml:"max_sync_attempts"`
	RetryBaseBackoff Duration `yaml:"retry_base_backoff"`
	MessageTimeout   Duration `yaml:"message_timeout"`

	PollCron    string `yaml:"poll_cron"`
	GmailQuery  string `yaml:"gmail_query"`
	MaxMessages int    `yaml:"max_messages"`
	MarkAsRead  bool   `yaml:"mark_as_read"`
}

func defaults() Config {
	return Config{
		Port:                   8760,
		LogLevel:               "info",
		GeminiModel:            "gemini-2.0-flash",
		Timezone:               "UTC",
		CalendarID:             "primary",
		CredentialsFile:        "credentials.json",
		TokenFile:              "token.json",
		MinConfidence:          0.5,
		DefaultDurationMinutes: 30,
		MaxSyncAttempts:        5,
		RetryBaseBackoff:       Duration(time.Second),
		MessageTimeout:         Duration(2 * time.Minute),
		PollCron:               "*/5 * * * *",
		GmailQuery:             "is:unread",
		MaxMessages:            10,
		MarkAsRead:             true,
	}
}

// Load reads path (when non-empty and present) and applies environment
// overrides on top.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = envInt("MAILCAL_PORT", cfg.Port)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = envStr("DATABASE_URL", cfg.DatabaseURL)
	cfg.NatsURL = envStr("NATS_URL", cfg.NatsURL)
	cfg.NatsToken = envStr("NATS_TOKEN", cfg.NatsToken)
	cfg.GeminiAPIKey = envStr("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = envStr("MAILCAL_MODEL", cfg.GeminiModel)
	cfg.Timezone = envStr("MAILCAL_TIMEZONE", cfg.Timezone)
	cfg.AgentAddress = envStr("MAILCAL_AGENT_ADDRESS", cfg.AgentAddress)
	cfg.CalendarID = envStr("MAILCAL_CALENDAR_ID", cfg.CalendarID)
	cfg.CredentialsFile = envStr("MAILCAL_CREDENTIALS_FILE", cfg.CredentialsFile)
	cfg.TokenFile = envStr("MAILCAL_TOKEN_FILE", cfg.TokenFile)
	cfg.MinConfidence = envFloat("MAILCAL_MIN_CONFIDENCE", cfg.MinConfidence)
	cfg.DefaultDurationMinutes = envInt("MAILCAL_DEFAULT_DURATION_MINUTES", cfg.DefaultDurationMinutes)
	cfg.MaxSyncAttempts = envInt("MAILCAL_MAX_SYNC_ATTEMPTS", cfg.MaxSyncAttempts)
	cfg.RetryBaseBackoff = envDuration("MAILCAL_RETRY_BASE_BACKOFF", cfg.RetryBaseBackoff)
	cfg.MessageTimeout = envDuration("MAILCAL_MESSAGE_TIMEOUT", cfg.MessageTimeout)
	cfg.PollCron = envStr("MAILCAL_POLL_CRON", cfg.PollCron)
	cfg.GmailQuery = envStr("MAILCAL_GMAIL_QUERY", cfg.GmailQuery)
	cfg.MaxMessages = envInt("MAILCAL_MAX_MESSAGES", cfg.MaxMessages)
	cfg.MarkAsRead = envBool("MAILCAL_MARK_AS_READ", cfg.MarkAsRead)

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	return cfg, nil
}

// Location resolves the configured timezone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback Duration) Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return Duration(d)
		}
	}
	return fallback
}
