package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	TxMaxAttempts  int           `mapstructure:"TX_MAX_ATTEMPTS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	EventsStream   string        `mapstructure:"EVENTS_STREAM"`
	EventsMaxLen   int64         `mapstructure:"EVENTS_MAX_LEN"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	PublishWorkers int           `mapstructure:"PUBLISH_WORKERS"`

	NarrativeBaseURL string        `mapstructure:"NARRATIVE_BASE_URL"`
	NarrativeAPIKey  string        `mapstructure:"NARRATIVE_API_KEY"`
	NarrativeModel   string        `mapstructure:"NARRATIVE_MODEL"`
	NarrativeTimeout time.Duration `mapstructure:"NARRATIVE_TIMEOUT"`
}

var defaults = map[string]interface{}{
	"PORT":               "8000",
	"ENV":                "development",
	"LOG_LEVEL":          "info",
	"DB_MAX_CONNS":       20,
	"DB_MIN_CONNS":       5,
	"TX_MAX_ATTEMPTS":    3,
	"EVENTS_STREAM":      "labreport:events",
	"EVENTS_MAX_LEN":     10000,
	"CORS_ORIGINS":       "http://localhost:3000",
	"RATE_LIMIT_RPS":     50,
	"RATE_LIMIT_BURST":   100,
	"BODY_LIMIT":         "1M",
	"REQUEST_TIMEOUT":    "30s",
	"PUBLISH_WORKERS":    4,
	"NARRATIVE_BASE_URL": "https://api.openai.com/v1",
	"NARRATIVE_MODEL":    "gpt-4o",
	"NARRATIVE_TIMEOUT":  "60s",
}

// envOnly keys have no default but must still be bound so Unmarshal sees them.
var envOnly = []string{
	"DATABASE_URL",
	"REDIS_URL",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY",
	"NARRATIVE_API_KEY",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. Environment variables win.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, d := range defaults {
		v.SetDefault(k, d)
		_ = v.BindEnv(k)
	}
	for _, k := range envOnly {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// NarrativeEnabled reports whether report augmentation has credentials.
func (c *Config) NarrativeEnabled() bool {
	return c.NarrativeAPIKey != ""
}

// Validate checks that the configuration is safe to run. Outside development
// every request must carry a token signed with AUTH_SIGNING_KEY.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.TxMaxAttempts <= 0 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be positive, got %d", c.TxMaxAttempts)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RedisURL != "" {
		if _, err := redis.ParseURL(c.RedisURL); err != nil {
			return fmt.Errorf("REDIS_URL is malformed: %w", err)
		}
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.NarrativeTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT and NARRATIVE_TIMEOUT must be positive")
	}
	return nil
}
