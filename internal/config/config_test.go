package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FIXER_API_KEY", "key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, "landed_cost", cfg.Database.Name)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "1.5", cfg.FX.Buffer.String())
	assert.Equal(t, "http://data.fixer.io/api", cfg.FX.BaseURL)
	assert.Equal(t, time.Hour, cfg.FX.CacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.Tariff.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, int64(10000), cfg.Outbox.StreamMaxLen)

	policy, err := cfg.Fallback.FallbackPolicy()
	require.NoError(t, err)
	assert.Equal(t, "default", policy.Name)
	assert.Equal(t, "12", policy.IGST.String())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("FX_STATIC_RATE", "83.25")
	t.Setenv("FX_BUFFER_INR", "2")
	t.Setenv("FX_CACHE_TTL", "15m")
	t.Setenv("FALLBACK_POLICY", "zero")
	t.Setenv("FALLBACK_IGST", "18")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_AUTO_MIGRATE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "83.25", cfg.FX.StaticRate.String())
	assert.Equal(t, "2", cfg.FX.Buffer.String())
	assert.Equal(t, 15*time.Minute, cfg.FX.CacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)

	policy, err := cfg.Fallback.FallbackPolicy()
	require.NoError(t, err)
	assert.Equal(t, "zero+custom", policy.Name)
	assert.True(t, policy.BCD.IsZero())
	assert.True(t, policy.SWC.IsZero())
	assert.Equal(t, "18", policy.IGST.String())
}

func TestLoad_UnparsableValuesUseDefaults(t *testing.T) {
	t.Setenv("FIXER_API_KEY", "key")
	t.Setenv("PORT", "eighty")
	t.Setenv("FX_CACHE_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.FX.CacheTTL)
}

func TestLoad_RejectsMalformedCostSettings(t *testing.T) {
	for _, key := range []string{"FX_BUFFER_INR", "FX_STATIC_RATE", "FALLBACK_BCD", "FALLBACK_SWC", "FALLBACK_IGST"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv("FIXER_API_KEY", "key")
			t.Setenv(key, "lots")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}

	t.Run("every malformed value is reported", func(t *testing.T) {
		t.Setenv("FIXER_API_KEY", "key")
		t.Setenv("FX_BUFFER_INR", "1,5")
		t.Setenv("FALLBACK_IGST", "18%")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "FX_BUFFER_INR")
		assert.Contains(t, err.Error(), "FALLBACK_IGST")
	})
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8085},
		Database: DatabaseConfig{Host: "localhost", Name: "landed_cost"},
		FX:       FXConfig{APIKey: "key", Buffer: decimal.New(150, -2)},
		Tariff:   TariffConfig{TablePath: "tariff.yaml"},
		Fallback: FallbackConfig{Policy: "default"},
		Outbox:   OutboxConfig{PollInterval: time.Second, BatchSize: 10},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	negative := decimal.NewFromInt(-1)
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"database host", func(c *Config) { c.Database.Host = "" }},
		{"database name", func(c *Config) { c.Database.Name = "" }},
		{"no rate source", func(c *Config) { c.FX.APIKey = "" }},
		{"negative buffer", func(c *Config) { c.FX.Buffer = negative }},
		{"tariff path", func(c *Config) { c.Tariff.TablePath = "" }},
		{"unknown policy", func(c *Config) { c.Fallback.Policy = "generous" }},
		{"negative fallback", func(c *Config) { c.Fallback.SWC = &negative }},
		{"poll interval", func(c *Config) { c.Outbox.PollInterval = 0 }},
		{"batch size", func(c *Config) { c.Outbox.BatchSize = 0 }},
		{"stream max len", func(c *Config) { c.Outbox.StreamMaxLen = -1 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "hsn_code", "73182100")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "73182100", entry["hsn_code"])

	buf.Reset()
	LoggingConfig{Level: "info", Format: "text"}.NewLogger(&buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("LANDED_COST_DOTENV_NEW=from-file\nLANDED_COST_DOTENV_SET=from-file\n"), 0o600))

	t.Setenv("LANDED_COST_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("LANDED_COST_DOTENV_NEW") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("LANDED_COST_DOTENV_NEW"))
	assert.Equal(t, "from-env", os.Getenv("LANDED_COST_DOTENV_SET"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
