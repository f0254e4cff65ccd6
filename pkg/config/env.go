// Package config loads InfraLLM's ambient environment configuration — the
// env-variable layer of SPEC_FULL.md §2's "two layers" split (the slower
// moving YAML layer is pkg/policy's preset library). Grounded on the
// teacher's cmd/tarsy/main.go env-loading shape (getEnv with a default,
// godotenv.Load before anything else reads the environment) and
// pkg/store/postgres.Config's getEnvOrDefault idiom, applied to the
// application-level settings that package has no business owning (JWT,
// credential encryption, LLM provider, CORS).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting InfraLLM's entrypoint
// needs to wire the core components together.
type Config struct {
	// AppEnv gates production-only safety checks (e.g. rejecting a
	// CHANGE_ME credential master key) — spec.md §4.1.
	AppEnv string

	HTTPPort string
	GinMode  string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	CredentialMasterKey string

	AnthropicAPIKey string
	AnthropicModel  string

	CORSAllowedOrigins []string

	DefaultCommandTimeout time.Duration
	SSHPoolMaxPerHost     int
	SSHPoolIdleTimeout    time.Duration
}

// Load reads environment variables, first attempting to populate the
// process environment from an .env file at envPath (a missing file is not
// fatal — matching the teacher's "Continuing with existing environment
// variables" fallback).
func Load(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("config: could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("config: loaded environment file", "path", envPath)
	}

	cfg := &Config{
		AppEnv:   getEnvOrDefault("APP_ENV", "development"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),
		GinMode:  getEnvOrDefault("GIN_MODE", "debug"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   getEnvOrDefault("JWT_ISSUER", "infrallm"),
		JWTAudience: getEnvOrDefault("JWT_AUDIENCE", "infrallm-api"),

		CredentialMasterKey: os.Getenv("CREDENTIAL_ENCRYPTION_MASTER_KEY"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  getEnvOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		CORSAllowedOrigins: splitCSV(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "")),
	}

	timeout, err := time.ParseDuration(getEnvOrDefault("DEFAULT_COMMAND_TIMEOUT", "120s"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid DEFAULT_COMMAND_TIMEOUT: %w", err)
	}
	cfg.DefaultCommandTimeout = timeout

	maxPerHost, err := strconv.Atoi(getEnvOrDefault("SSH_POOL_MAX_PER_HOST", "4"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid SSH_POOL_MAX_PER_HOST: %w", err)
	}
	cfg.SSHPoolMaxPerHost = maxPerHost

	idleTimeout, err := time.ParseDuration(getEnvOrDefault("SSH_POOL_IDLE_TIMEOUT", "10m"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid SSH_POOL_IDLE_TIMEOUT: %w", err)
	}
	cfg.SSHPoolIdleTimeout = idleTimeout

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings every component hard-depends on are
// present, failing fast at startup rather than surfacing as a nil-pointer
// panic or a silently-unauthenticated endpoint later.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.CredentialMasterKey == "" {
		return fmt.Errorf("config: CREDENTIAL_ENCRYPTION_MASTER_KEY is required")
	}
	return nil
}

// IsProduction reports whether AppEnv names a production deployment —
// gates the CHANGE_ME master-key refusal in spec.md §4.1.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
