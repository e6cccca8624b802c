// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tenant resolution
	DefaultTenantID    string   // Fallback tenant when no resolution strategy matches ("" disables)
	BaseDomain         string   // Apex domain subdomains hang off (e.g. "closedesk.io")
	ReservedSubdomains []string // Host labels never treated as tenant subdomains

	// Billing
	StripeSecretKey string // Optional; Stripe provisioning disabled when empty

	// Security
	AdminSecret    string // Platform admin API secret
	AllowedOrigins []string
	RateLimitRPM   int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults
const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultBaseDomain   = "closedesk.io"
	DefaultRateLimitRPM = 300
)

// defaultReservedSubdomains are host labels that never resolve to a tenant.
var defaultReservedSubdomains = []string{"www", "api", "localhost"}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		DefaultTenantID:    os.Getenv("DEFAULT_TENANT_ID"),
		BaseDomain:         getEnv("BASE_DOMAIN", DefaultBaseDomain),
		ReservedSubdomains: getEnvList("RESERVED_SUBDOMAINS", defaultReservedSubdomains),
		StripeSecretKey:    os.Getenv("STRIPE_SECRET_KEY"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.BaseDomain == "" {
		return fmt.Errorf("BASE_DOMAIN must not be empty")
	}
	if strings.Contains(c.BaseDomain, "://") {
		return fmt.Errorf("BASE_DOMAIN must be a bare domain, not a URL")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
