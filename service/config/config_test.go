package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/brojonat/orand/service/vrf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Setup environment variables
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel) // Default
	assert.Equal(t, "devnet", cfg.Network)
	assert.Empty(t, cfg.SolanaRPCURLs)
	assert.Equal(t, "orand", cfg.TemporalTaskQueue)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.FulfillmentTimeout)
	assert.Equal(t, 60*time.Second, cfg.ConfirmTimeout)

	env, err := cfg.Env()
	require.NoError(t, err)
	assert.Equal(t, vrf.Devnet, env.Network)
	assert.Equal(t, vrf.DefaultProgramID, env.ProgramID)
	assert.Len(t, env.RPCURLs, 1)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_UnknownNetwork(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("VRF_NETWORK", "testnet")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "unknown network")
}

func TestLoad_InvalidProgramID(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("VRF_PROGRAM_ID", "not-base58!")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid program id")
}

func TestLoad_InvalidPollInterval(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("POLL_INTERVAL", "invalid")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_TimeoutShorterThanPoll(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("POLL_INTERVAL", "10s")
	os.Setenv("FULFILLMENT_TIMEOUT", "5s")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "cannot be less than")
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("VRF_NETWORK", "mainnet")
	os.Setenv("SOLANA_RPC_URLS", "https://a.example.com, https://b.example.com,,")
	os.Setenv("VRF_PROGRAM_ID", "VRFUm3dhiqtyW6nj8XghcPLJbCXg9Hj85iABpxwq1Xz")
	os.Setenv("PAYER_KEYPAIR", "/keys/payer.json")
	os.Setenv("SERVER_ADDR", ":9091")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	os.Setenv("POLL_INTERVAL", "500ms")
	os.Setenv("FULFILLMENT_TIMEOUT", "5m")
	os.Setenv("CONFIRM_TIMEOUT", "30s")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":9091", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, "/keys/payer.json", cfg.PayerKeypair)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.FulfillmentTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConfirmTimeout)

	env, err := cfg.Env()
	require.NoError(t, err)
	assert.Equal(t, vrf.Mainnet, env.Network)
	assert.Equal(t, "VRFUm3dhiqtyW6nj8XghcPLJbCXg9Hj85iABpxwq1Xz", env.ProgramID.String())
	assert.Equal(t, cfg.SolanaRPCURLs, env.RPCURLs)
}

func validConfig() *Config {
	return &Config{
		DatabaseURL:        "postgres://localhost/test",
		Network:            "devnet",
		TemporalHost:       "localhost:7233",
		TemporalNamespace:  "default",
		TemporalTaskQueue:  "orand",
		PollInterval:       2 * time.Second,
		FulfillmentTimeout: 2 * time.Minute,
		ConfirmTimeout:     60 * time.Second,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DatabaseURL is required"},
		{"unknown network", func(c *Config) { c.Network = "nope" }, "unknown network"},
		{"missing task queue", func(c *Config) { c.TemporalTaskQueue = "" }, "TemporalTaskQueue is required"},
		{"poll too short", func(c *Config) { c.PollInterval = time.Millisecond }, "at least 100ms"},
		{"confirm too short", func(c *Config) { c.ConfirmTimeout = 10 * time.Millisecond }, "at least 1 second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("bogus"))
}

func TestMustLoad_Panics(t *testing.T) {
	// Don't set required env vars
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"DATABASE_URL", "VRF_NETWORK", "SOLANA_RPC_URLS", "VRF_PROGRAM_ID",
		"PAYER_KEYPAIR", "SERVER_ADDR", "METRICS_ADDR", "LOG_LEVEL", "NATS_URL",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
		"POLL_INTERVAL", "FULFILLMENT_TIMEOUT", "CONFIRM_TIMEOUT",
	} {
		os.Unsetenv(key)
	}
}
