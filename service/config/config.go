package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brojonat/orand/service/vrf"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana / VRF configuration. Empty RPC URLs and program id mean the
	// defaults of the selected network.
	Network       string
	SolanaRPCURLs []string
	ProgramID     string
	PayerKeypair  string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Timing
	PollInterval       time.Duration
	FulfillmentTimeout time.Duration
	ConfirmTimeout     time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.Network = getEnvOrDefault("VRF_NETWORK", string(vrf.Devnet))
	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URLS"))
	cfg.ProgramID = os.Getenv("VRF_PROGRAM_ID")
	cfg.PayerKeypair = os.Getenv("PAYER_KEYPAIR")
	if _, err := cfg.Env(); err != nil {
		errs = append(errs, fmt.Errorf("VRF_NETWORK/SOLANA_RPC_URLS/VRF_PROGRAM_ID: %w", err))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "orand")

	// Timing configuration
	for _, d := range []struct {
		key, def string
		dst      *time.Duration
	}{
		{"POLL_INTERVAL", "2s", &cfg.PollInterval},
		{"FULFILLMENT_TIMEOUT", "2m", &cfg.FulfillmentTimeout},
		{"CONFIRM_TIMEOUT", "60s", &cfg.ConfirmTimeout},
	} {
		v, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = v
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if _, err := c.Env(); err != nil {
		errs = append(errs, err)
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.PollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("PollInterval must be at least 100ms"))
	}

	if c.FulfillmentTimeout < c.PollInterval {
		errs = append(errs, fmt.Errorf("FulfillmentTimeout (%v) cannot be less than PollInterval (%v)",
			c.FulfillmentTimeout, c.PollInterval))
	}

	if c.ConfirmTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Env resolves the VRF environment for the configured network, applying the
// RPC URL and program id overrides.
func (c *Config) Env() (vrf.Env, error) {
	return vrf.NewEnv(c.Network, c.SolanaRPCURLs, c.ProgramID)
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

// ParseLogLevel maps a level name to a slog level. Unknown values mean info.
func ParseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
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

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
