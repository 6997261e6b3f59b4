// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Gateway modes.
const (
	GatewaySandbox = "sandbox"
	GatewayHTTP    = "http"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL    string `env:"DATABASE_URL,required"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://tikiti.co.ke,https://*.tikiti.co.ke")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 64KB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"65536"`

	// Lottery rounds, amounts in minor units
	RoundCapacity         int    `env:"ROUND_CAPACITY" envDefault:"50"`
	TicketPrice           int64  `env:"TICKET_PRICE" envDefault:"50"`
	HouseFeeBPS           int    `env:"HOUSE_FEE_BPS" envDefault:"1000"`
	MaxTicketsPerUser     int    `env:"MAX_TICKETS_PER_USER" envDefault:"0"`
	MaxTicketsPerPurchase int    `env:"MAX_TICKETS_PER_PURCHASE" envDefault:"0"`
	DrawBeacon            string `env:"DRAW_BEACON" envDefault:""`

	// Sessions
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Payment gateway
	GatewayMode           string        `env:"GATEWAY_MODE" envDefault:"sandbox"`
	GatewayBaseURL        string        `env:"GATEWAY_BASE_URL" envDefault:""`
	GatewayAPIKey         string        `env:"GATEWAY_API_KEY" envDefault:""`
	GatewayCallbackSecret string        `env:"GATEWAY_CALLBACK_SECRET" envDefault:""`
	GatewayTimeout        time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
	PayoutConfirmTimeout  time.Duration `env:"PAYOUT_CONFIRM_TIMEOUT" envDefault:"10m"`
	SweeperPollInterval   time.Duration `env:"SWEEPER_POLL_INTERVAL" envDefault:"30s"`
	Currency              string        `env:"CURRENCY" envDefault:"KES"`
	CurrencyMinorUnits    int32         `env:"CURRENCY_MINOR_UNITS" envDefault:"0"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks values that env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.RoundCapacity < 1 {
		errs = append(errs, errors.New("ROUND_CAPACITY must be at least 1"))
	}
	if c.TicketPrice < 1 {
		errs = append(errs, errors.New("TICKET_PRICE must be at least 1"))
	}
	if c.HouseFeeBPS < 0 || c.HouseFeeBPS >= 10000 {
		errs = append(errs, errors.New("HOUSE_FEE_BPS must be in [0, 10000)"))
	}
	if c.MaxTicketsPerUser < 0 || c.MaxTicketsPerPurchase < 0 {
		errs = append(errs, errors.New("ticket limits must not be negative"))
	}
	if c.CurrencyMinorUnits < 0 || c.CurrencyMinorUnits > 4 {
		errs = append(errs, errors.New("CURRENCY_MINOR_UNITS must be in [0, 4]"))
	}
	switch c.GatewayMode {
	case GatewaySandbox:
		if c.IsProduction() {
			errs = append(errs, errors.New("GATEWAY_MODE=sandbox is not allowed in production"))
		}
	case GatewayHTTP:
		if c.GatewayBaseURL == "" || c.GatewayAPIKey == "" {
			errs = append(errs, errors.New("GATEWAY_BASE_URL and GATEWAY_API_KEY are required when GATEWAY_MODE=http"))
		}
		if c.GatewayCallbackSecret == "" {
			errs = append(errs, errors.New("GATEWAY_CALLBACK_SECRET is required when GATEWAY_MODE=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GATEWAY_MODE %q", c.GatewayMode))
	}
	return errors.Join(errs...)
}

// Load reads an optional .env file, parses environment variables and
// returns a validated Config. Variables already set in the environment win
// over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
