// Package server provides configuration helpers that define runtime defaults,
// file and environment loading, and validation for the chat relay.
package server

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"-"`

	RefillIntervalRaw string `yaml:"refill_interval"`
}

// AuthConfig holds handshake token settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-"`

	TokenTTLRaw string `yaml:"token_ttl"`
}

// DatabaseConfig holds conversation store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string          `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	SendBuffer     int             `yaml:"send_buffer"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Auth           AuthConfig      `yaml:"auth"`
	Database       DatabaseConfig  `yaml:"database"`
	Logging        LoggingConfig   `yaml:"logging"`
}

// envOverrides lists the environment variables that override file values.
// Zero values mean "not set".
type envOverrides struct {
	Port            string        `env:"SERVER_PORT"`
	AllowedOrigins  string        `env:"ALLOWED_ORIGINS"`
	MaxMessageSize  int           `env:"MAX_MESSAGE_SIZE"`
	SendBuffer      int           `env:"SEND_BUFFER"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST"`
	RateLimitRefill int           `env:"RATE_LIMIT_REFILL_INTERVAL"`
	JWTSecret       string        `env:"JWT_SECRET"`
	TokenTTL        time.Duration `env:"TOKEN_TTL"`
	DatabasePath    string        `env:"DATABASE_PATH"`
	LogLevel        string        `env:"LOG_LEVEL"`
	LogFormat       string        `env:"LOG_FORMAT"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 16 * 1024,
		SendBuffer:     256,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path: "data/chat.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// at path (with ${VAR} expansion), and environment overrides, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := parseDurations(&cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values; unset variables expand to "".
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error

	if cfg.RateLimit.RefillIntervalRaw != "" {
		cfg.RateLimit.RefillInterval, err = time.ParseDuration(cfg.RateLimit.RefillIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing rate_limit.refill_interval %q: %w", cfg.RateLimit.RefillIntervalRaw, err)
		}
	}

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	return nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return err
	}

	if o.Port != "" {
		cfg.Port = o.Port
	}
	if o.AllowedOrigins != "" {
		cfg.AllowedOrigins = parseOrigins(o.AllowedOrigins)
	}
	if o.MaxMessageSize > 0 {
		cfg.MaxMessageSize = int64(o.MaxMessageSize)
	}
	if o.SendBuffer > 0 {
		cfg.SendBuffer = o.SendBuffer
	}
	if o.RateLimitBurst > 0 {
		cfg.RateLimit.Burst = o.RateLimitBurst
	}
	if o.RateLimitRefill > 0 {
		cfg.RateLimit.RefillInterval = time.Duration(o.RateLimitRefill) * time.Second
	}
	if o.JWTSecret != "" {
		cfg.Auth.JWTSecret = o.JWTSecret
	}
	if o.TokenTTL > 0 {
		cfg.Auth.TokenTTL = o.TokenTTL
	}
	if o.DatabasePath != "" {
		cfg.Database.Path = o.DatabasePath
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	return nil
}

// sanitize replaces out-of-range values with defaults.
func (c *Config) sanitize() {
	def := defaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = def.Auth.TokenTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set JWT_SECRET)")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
