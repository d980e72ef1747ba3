// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port           string        `env:"PORT" envDefault:"3000"`
	DBPath         string        `env:"DB_PATH" envDefault:"./data/relay.db"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	GRPCHealthPort string        `env:"GRPC_HEALTH_PORT"`
	Backend        BackendConfig `envPrefix:"BACKEND_"`
	Relay          RelayConfig
	Session        SessionConfig
	Janitor        JanitorConfig
}

// BackendConfig points at the decision service.
type BackendConfig struct {
	URL           string        `env:"URL"`
	ItemTimeout   time.Duration `env:"ITEM_TIMEOUT" envDefault:"60s"`
	ChoiceTimeout time.Duration `env:"CHOICE_TIMEOUT" envDefault:"30s"`
}

// RelayConfig controls which messages are relayed and how answers are read.
type RelayConfig struct {
	StaleAfter       time.Duration `env:"STALE_AFTER" envDefault:"60s"`
	AllowDirectChats bool          `env:"ALLOW_DIRECT_CHATS" envDefault:"false"`
	VocabularyFile   string        `env:"VOCABULARY_FILE"`
}

// SessionConfig controls the transport sessions.
type SessionConfig struct {
	BridgeURL       string `env:"BRIDGE_URL" envDefault:"ws://localhost:8090/bridge"`
	RestoreSessions bool   `env:"RESTORE_SESSIONS" envDefault:"true"`
}

// JanitorConfig controls periodic cleanup.
type JanitorConfig struct {
	Interval            time.Duration `env:"JANITOR_INTERVAL" envDefault:"5m"`
	ConversationIdleTTL time.Duration `env:"CONVERSATION_IDLE_TTL" envDefault:"6h"`
	MessageLogRetention time.Duration `env:"MESSAGE_LOG_RETENTION" envDefault:"168h"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute URL")
	}
	if c.Backend.ItemTimeout <= 0 || c.Backend.ChoiceTimeout <= 0 {
		return fmt.Errorf("backend timeouts must be > 0")
	}
	if c.Session.BridgeURL == "" {
		return fmt.Errorf("BRIDGE_URL cannot be empty")
	}
	if c.Relay.StaleAfter <= 0 {
		return fmt.Errorf("STALE_AFTER must be > 0")
	}
	if c.Janitor.Interval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
