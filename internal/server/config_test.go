package server

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_PORT", "ALLOWED_ORIGINS", "MAX_MESSAGE_SIZE", "SEND_BUFFER",
		"RATE_LIMIT_BURST", "RATE_LIMIT_REFILL_INTERVAL", "JWT_SECRET", "TOKEN_TTL",
		"DATABASE_PATH", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(16*1024), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "data/chat.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	clearConfigEnv(t)

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoadConfigFromYAML(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("CHATRELAY_TEST_SECRET", "from-env-expansion")

	path := writeConfigFile(t, `
port: ":9090"
allowed_origins:
  - "https://chat.example.com"
send_buffer: 32
rate_limit:
  burst: 5
  refill_interval: 500ms
auth:
  jwt_secret: ${CHATRELAY_TEST_SECRET}
  token_ttl: 2h
database:
  path: /tmp/chatrelay-test.db
logging:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "from-env-expansion", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "/tmp/chatrelay-test.db", cfg.Database.Path)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, int64(16*1024), cfg.MaxMessageSize, "unset fields keep defaults")
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	clearConfigEnv(t)
	path := writeConfigFile(t, `
port: ":9090"
auth:
  jwt_secret: file-secret
`)

	t.Setenv("SERVER_PORT", ":7000")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example.com, http://b.example.com")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("DATABASE_PATH", "/var/lib/chatrelay/chat.db")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Port)
	assert.Equal(t, []string{"http://a.example.com", "http://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "/var/lib/chatrelay/chat.db", cfg.Database.Path)
}

func TestLoadConfigErrors(t *testing.T) {
	clearConfigEnv(t)

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeConfigFile(t, `
auth:
  jwt_secret: s
  token_ttl: forever
`)
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token_ttl")
	})

	t.Run("bad log format", func(t *testing.T) {
		path := writeConfigFile(t, `
auth:
  jwt_secret: s
logging:
  format: xml
`)
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.format")
	})
}

func TestSanitizeReplacesInvalidValues(t *testing.T) {
	cfg := Config{MaxMessageSize: -1, SendBuffer: 0, RateLimit: RateLimitConfig{Burst: -2}}
	cfg.sanitize()

	def := defaultConfig()
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.SendBuffer, cfg.SendBuffer)
	assert.Equal(t, def.RateLimit.Burst, cfg.RateLimit.Burst)
	assert.Equal(t, def.RateLimit.RefillInterval, cfg.RateLimit.RefillInterval)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"component":"test"`)
}
