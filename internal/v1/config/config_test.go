package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets a variable for the duration of the test. t.Setenv first
// so the original value is restored afterwards.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

var allKeys = []string{
	"PORT", "GO_ENV", "LOG_LEVEL", "WS_ORIGIN_ALLOW",
	"REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"MAX_MESSAGE_BYTES", "MAX_UPLOAD_BYTES", "MAX_REACTIONS_PER_MESSAGE",
	"TICKET_TTL_MS", "HEARTBEAT_MS", "OWNER_LEAVE_POLICY",
	"RATE_LIMIT_API_GLOBAL", "RATE_LIMIT_API_PUBLIC",
	"RATE_LIMIT_API_MESSAGES", "RATE_LIMIT_WS_IP",
}

func TestValidateEnvDefaults(t *testing.T) {
	clearEnv(t, allKeys...)

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.False(t, cfg.DevelopmentMode())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, 4000, cfg.MaxMessageBytes)
	assert.EqualValues(t, 10*1024*1024, cfg.MaxUploadBytes)
	assert.Equal(t, 20, cfg.MaxReactionsPerMessage)
	assert.Equal(t, 60_000, cfg.TicketTTLMs)
	assert.Equal(t, 30_000, cfg.HeartbeatMs)
	assert.Equal(t, OwnerLeaveForbid, cfg.OwnerLeave)
	assert.Equal(t, "1000-M", cfg.RateLimitAPIGlobal)
	assert.Nil(t, cfg.OriginAllowlist())
}

func TestValidateEnvOverrides(t *testing.T) {
	clearEnv(t, allKeys...)
	t.Setenv("PORT", "9000")
	t.Setenv("GO_ENV", "development")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WS_ORIGIN_ALLOW", "https://a.example.com, https://b.example.com")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("MAX_MESSAGE_BYTES", "1234")
	t.Setenv("OWNER_LEAVE_POLICY", "promote")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.DevelopmentMode())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.OriginAllowlist())
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 1234, cfg.MaxMessageBytes)
	assert.Equal(t, OwnerLeavePromote, cfg.OwnerLeave)
}

func TestValidateEnvCollectsAllErrors(t *testing.T) {
	clearEnv(t, allKeys...)
	t.Setenv("PORT", "not-a-port")
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("MAX_MESSAGE_BYTES", "-5")
	t.Setenv("OWNER_LEAVE_POLICY", "vanish")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
	assert.Contains(t, err.Error(), "MAX_MESSAGE_BYTES")
	assert.Contains(t, err.Error(), "OWNER_LEAVE_POLICY")
}

func TestValidateEnvRedisAddrFormat(t *testing.T) {
	clearEnv(t, allKeys...)
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "not a host port")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}
