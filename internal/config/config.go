package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maltedev/landed-cost/internal/fx"
	"github.com/maltedev/landed-cost/internal/tariff"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	FX       FXConfig
	Tariff   TariffConfig
	Fallback FallbackConfig
	Outbox   OutboxConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	// AutoMigrate creates missing tables on startup.
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type FXConfig struct {
	APIKey  string
	BaseURL string
	// StaticRate replaces the Fixer lookup when positive.
	StaticRate  decimal.Decimal
	Buffer      decimal.Decimal
	CacheTTL    time.Duration
	MinInterval time.Duration
	Timeout     time.Duration
}

type TariffConfig struct {
	TablePath string
	CacheTTL  time.Duration
}

// FallbackConfig selects a built-in policy and optionally overrides its
// individual percentages.
type FallbackConfig struct {
	Policy string
	BCD    *decimal.Decimal
	SWC    *decimal.Decimal
	IGST   *decimal.Decimal
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	StreamMaxLen int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	costs := &decimalEnv{}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8085),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "landed_cost"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),

			AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		FX: FXConfig{
			APIKey:      getEnv("FIXER_API_KEY", ""),
			BaseURL:     getEnv("FIXER_BASE_URL", fx.DefaultFixerBaseURL),
			StaticRate:  costs.value("FX_STATIC_RATE", decimal.Zero),
			Buffer:      costs.value("FX_BUFFER_INR", fx.DefaultBuffer),
			CacheTTL:    getEnvDuration("FX_CACHE_TTL", time.Hour),
			MinInterval: getEnvDuration("FX_MIN_INTERVAL", 2*time.Second),
			Timeout:     getEnvDuration("FX_TIMEOUT", 10*time.Second),
		},
		Tariff: TariffConfig{
			TablePath: getEnv("TARIFF_TABLE_PATH", "tariff.yaml"),
			CacheTTL:  getEnvDuration("TARIFF_CACHE_TTL", 24*time.Hour),
		},
		Fallback: FallbackConfig{
			Policy: getEnv("FALLBACK_POLICY", "default"),
			BCD:    costs.ptr("FALLBACK_BCD"),
			SWC:    costs.ptr("FALLBACK_SWC"),
			IGST:   costs.ptr("FALLBACK_IGST"),
		},
		Outbox: OutboxConfig{
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
			StreamMaxLen: int64(getEnvInt("OUTBOX_STREAM_MAXLEN", 10000)),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := errors.Join(costs.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return errors.New("database host is required")
	}

	if c.Database.Name == "" {
		return errors.New("database name is required")
	}

	if c.FX.APIKey == "" && !c.FX.StaticRate.IsPositive() {
		return errors.New("FIXER_API_KEY or a positive FX_STATIC_RATE is required")
	}

	if c.FX.Buffer.IsNegative() {
		return fmt.Errorf("FX_BUFFER_INR cannot be negative: %s", c.FX.Buffer)
	}

	if c.Tariff.TablePath == "" {
		return errors.New("TARIFF_TABLE_PATH is required")
	}

	if _, err := c.Fallback.FallbackPolicy(); err != nil {
		return err
	}

	if c.Outbox.PollInterval <= 0 {
		return errors.New("OUTBOX_POLL_INTERVAL must be positive")
	}

	if c.Outbox.BatchSize < 1 {
		return errors.New("OUTBOX_BATCH_SIZE must be at least 1")
	}

	if c.Outbox.StreamMaxLen < 0 {
		return errors.New("OUTBOX_STREAM_MAXLEN cannot be negative")
	}

	if _, err := c.Logging.level(); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

// FallbackPolicy resolves the configured policy including overrides.
func (f FallbackConfig) FallbackPolicy() (tariff.FallbackPolicy, error) {
	policy, err := tariff.PolicyByName(f.Policy)
	if err != nil {
		return tariff.FallbackPolicy{}, err
	}

	overridden := false
	for _, o := range []struct {
		name   string
		value  *decimal.Decimal
		target *decimal.Decimal
	}{
		{"FALLBACK_BCD", f.BCD, &policy.BCD},
		{"FALLBACK_SWC", f.SWC, &policy.SWC},
		{"FALLBACK_IGST", f.IGST, &policy.IGST},
	} {
		if o.value == nil {
			continue
		}
		if o.value.IsNegative() {
			return tariff.FallbackPolicy{}, fmt.Errorf("%s cannot be negative: %s", o.name, o.value)
		}
		*o.target = *o.value
		overridden = true
	}

	if overridden {
		policy.Name += "+custom"
	}
	return policy, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// decimalEnv reads settings that change calculated costs. A malformed value
// is recorded in errs instead of falling back to the default.
type decimalEnv struct {
	errs []error
}

func (e *decimalEnv) value(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if d := e.ptr(key); d != nil {
		return *d
	}
	return defaultValue
}

func (e *decimalEnv) ptr(key string) *decimal.Decimal {
	value, exists := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	if !exists || value == "" {
		return nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: not a decimal number", key, value))
		return nil
	}
	return &d
}

func getEnvSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
