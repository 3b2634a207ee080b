package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// OwnerLeavePolicy decides what happens when a room owner tries to leave.
type OwnerLeavePolicy string

const (
	// OwnerLeaveForbid rejects the leave with forbidden until ownership is transferred.
	OwnerLeaveForbid OwnerLeavePolicy = "forbid"
	// OwnerLeavePromote auto-promotes the longest-standing admin (or member).
	OwnerLeavePromote OwnerLeavePolicy = "promote"
)

// Config holds validated environment configuration.
type Config struct {
	Port           string
	GoEnv          string
	LogLevel       string
	AllowedOrigins string

	// Redis (optional, backs the shared rate limit store)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Tracing (optional)
	OTLPEndpoint string

	// Protocol limits
	MaxMessageBytes        int
	MaxUploadBytes         int64
	MaxReactionsPerMessage int
	TicketTTLMs            int
	HeartbeatMs            int

	OwnerLeave OwnerLeavePolicy

	// Rate limits (ulule/limiter formatted, e.g. "500-M")
	RateLimitAPIGlobal   string
	RateLimitAPIPublic   string
	RateLimitAPIMessages string
	RateLimitWsIP        string
}

// ValidateEnv validates all environment variables and returns a Config.
// Returns an error describing every invalid variable at once.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of debug, info, warn, error (got '%s')", cfg.LogLevel))
	}

	cfg.AllowedOrigins = os.Getenv("WS_ORIGIN_ALLOW")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.MaxMessageBytes = getEnvIntOrDefault("MAX_MESSAGE_BYTES", 4000, &errs)
	cfg.MaxUploadBytes = int64(getEnvIntOrDefault("MAX_UPLOAD_BYTES", 10*1024*1024, &errs))
	cfg.MaxReactionsPerMessage = getEnvIntOrDefault("MAX_REACTIONS_PER_MESSAGE", 20, &errs)
	cfg.TicketTTLMs = getEnvIntOrDefault("TICKET_TTL_MS", 60_000, &errs)
	cfg.HeartbeatMs = getEnvIntOrDefault("HEARTBEAT_MS", 30_000, &errs)

	cfg.OwnerLeave = OwnerLeavePolicy(getEnvOrDefault("OWNER_LEAVE_POLICY", string(OwnerLeaveForbid)))
	if cfg.OwnerLeave != OwnerLeaveForbid && cfg.OwnerLeave != OwnerLeavePromote {
		errs = append(errs, fmt.Sprintf("OWNER_LEAVE_POLICY must be 'forbid' or 'promote' (got '%s')", cfg.OwnerLeave))
	}

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// DevelopmentMode reports whether the process runs with the dev encoder
// and relaxed origins.
func (c *Config) DevelopmentMode() bool {
	return c.GoEnv == "development"
}

// OriginAllowlist returns the configured WS origin allowlist, empty when
// every origin should be rejected except non-browser (no Origin) clients.
func (c *Config) OriginAllowlist() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"ws_origin_allow", cfg.AllowedOrigins,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_upload_bytes", cfg.MaxUploadBytes,
		"owner_leave_policy", string(cfg.OwnerLeave),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int, errs *[]string) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got '%s')", key, value))
		return defaultValue
	}
	return n
}
