package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	DatabaseURL    string
	LogLevel       string
	LogFormat      string
	Port           string
	PrometheusPort string
	DataDir        string
	MigrationsPath string

	JWTSecret   string
	SessionTTL  time.Duration
	LoginPolicy string

	CollabURL string
	NATSURL   string
	RelayPort int

	ScraperAPIKey string
	ScraperAPIURL string

	TelegramToken  string
	TelegramChatID int64
}

// Load loads configuration from a .env file, if present, and the environment
func Load() (*Config, error) {
	// a missing .env is fine; the environment is authoritative
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "text"),
		Port:           getEnvOrDefault("PORT", "8080"),
		PrometheusPort: getEnvOrDefault("PROMETHEUS_PORT", "9090"),
		DataDir:        getEnvOrDefault("DATA_DIR", defaultDataDir()),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", "migrations"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		LoginPolicy:    getEnvOrDefault("LOGIN_POLICY", "strict"),
		CollabURL:      os.Getenv("COLLAB_URL"),
		NATSURL:        os.Getenv("NATS_URL"),
		ScraperAPIKey:  os.Getenv("SCRAPER_API_KEY"),
		ScraperAPIURL:  os.Getenv("SCRAPER_API_URL"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
	}

	var err error
	if cfg.SessionTTL, err = time.ParseDuration(getEnvOrDefault("SESSION_TTL", "24h")); err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	if cfg.RelayPort, err = strconv.Atoi(getEnvOrDefault("RELAY_PORT", "8090")); err != nil {
		return nil, fmt.Errorf("invalid RELAY_PORT: %w", err)
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID"); chat != "" {
		if cfg.TelegramChatID, err = strconv.ParseInt(chat, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
	}

	return cfg, nil
}

// ValidateServe checks the settings the sync agent cannot run without
func (c *Config) ValidateServe() error {
	if err := c.ValidateMigrate(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	return nil
}

// ValidateMigrate checks the settings migrations need
func (c *Config) ValidateMigrate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return nil
}

// TelegramEnabled reports whether push notifications can be delivered
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// DurablePath returns the path of the durable local store
func (c *Config) DurablePath() string {
	return filepath.Join(c.DataDir, "wishsync.db")
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "wishsync")
	}
	return ".wishsync"
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
