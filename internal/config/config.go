package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Services ServicesConfig
	Channel  ChannelConfig
	Server   ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Username string
	Password string
	Name     string
}

// ServicesConfig holds external service API keys and configuration
type ServicesConfig struct {
	OpenAIAPIKey     string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	WebAppURI        string
}

// ChannelConfig holds WhatsApp channel driver configuration
type ChannelConfig struct {
	SessionStoreDSN string // DSN for the whatsmeow device/session store
	SendTimeoutSec  int    // upper bound for a single dispatch call
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments
	if os.Getenv("GO_ENV") != "production" {
		if err := godotenv.Load("env.local"); err != nil {
			return nil, fmt.Errorf("failed to load env.local: %w", err)
		}
	}

	cfg := &Config{}

	// Database configuration
	var err error
	if cfg.Database.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Username, err = requireEnv("DB_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}

	// Services configuration
	if cfg.Services.OpenAIAPIKey, err = requireEnv("OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	// Twilio is only needed when campaigns enable the missed-call action
	cfg.Services.TwilioAccountSID = getEnvWithDefault("TWILIO_ACCOUNT_SID", "")
	cfg.Services.TwilioAuthToken = getEnvWithDefault("TWILIO_AUTH_TOKEN", "")
	cfg.Services.TwilioFromNumber = getEnvWithDefault("TWILIO_FROM_NUMBER", "")
	cfg.Services.WebAppURI = getEnvWithDefault("WEB_APP_URI", "http://localhost:3000")

	// Channel configuration
	cfg.Channel.SessionStoreDSN = getEnvWithDefault("WA_SESSION_STORE_DSN", "")
	if cfg.Channel.SessionStoreDSN == "" {
		cfg.Channel.SessionStoreDSN = (&cfg.Database).ConnectionString()
	}
	sendTimeout := getEnvWithDefault("WA_SEND_TIMEOUT_SEC", "30")
	cfg.Channel.SendTimeoutSec, err = strconv.Atoi(sendTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse WA_SEND_TIMEOUT_SEC: %w", err)
	}

	// Server configuration
	serverPort, err := requireEnv("SERVER_PORT")
	if err != nil {
		return nil, err
	}
	cfg.Server.Port, err = strconv.Atoi(serverPort)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SERVER_PORT: %w", err)
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.Username, c.Password, c.Host, c.Name)
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
