// Package server provides configuration helpers that define runtime defaults,
// validation, and security parameters for the presence gateway.
package server

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/presencegw/internal/directory"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// AuthConfig describes how connection tokens are located and verified.
type AuthConfig struct {
	Secret      string
	Algorithm   string
	TokenHeader string
	Leeway      time.Duration
}

// Config holds the gateway configuration settings including security controls.
type Config struct {
	Port              string
	AllowedOrigins    []string
	MaxMessageSize    int64
	SendBufferSize    int
	RateLimit         RateLimitConfig
	Auth              AuthConfig
	Directory         directory.Config
	RequireActiveUser bool
	ExclusiveSessions bool
	LogLevel          string
	LogFormat         string
	ShutdownTimeout   time.Duration
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 512
	defaultSendBufferSize  = 256
	defaultTokenHeader     = "authentication"
	defaultShutdownTimeout = 10 * time.Second
)

var (
	configMu      sync.RWMutex
	activeConfig  Config
	activeOrigins originPolicy
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		SendBufferSize: defaultSendBufferSize,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Auth: AuthConfig{
			Algorithm:   "HS256",
			TokenHeader: defaultTokenHeader,
		},
		Directory: directory.Config{
			Backend:  directory.BackendMemory,
			CacheTTL: time.Minute,
		},
		LogLevel:        "info",
		LogFormat:       "console",
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if strings.TrimSpace(cfg.Auth.TokenHeader) == "" {
		cfg.Auth.TokenHeader = defaultTokenHeader
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	policy := newOriginPolicy(cfg.AllowedOrigins)
	cfg.AllowedOrigins = append([]string(nil), policy.normalized...)
	if policy.allowAll {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, wildcardOrigin)
	}

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	activeOrigins = policy

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// CurrentConfig returns a copy of the active configuration.
func CurrentConfig() Config {
	return currentConfig()
}

// Validate reports settings the gateway cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables,
// loading a .env file from the working directory first when one exists.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	// Auth
	cfg.Auth.Secret = os.Getenv("JWT_SECRET")
	if alg := os.Getenv("JWT_ALGORITHM"); alg != "" {
		cfg.Auth.Algorithm = alg
	}
	if header := os.Getenv("TOKEN_HEADER"); header != "" {
		cfg.Auth.TokenHeader = header
	}
	if leeway := os.Getenv("JWT_LEEWAY"); leeway != "" {
		cfg.Auth.Leeway = parseSeconds(leeway, cfg.Auth.Leeway)
	}

	// Directory
	if backend := os.Getenv("DIRECTORY_BACKEND"); backend != "" {
		cfg.Directory.Backend = backend
	}
	cfg.Directory.SeedFile = os.Getenv("DIRECTORY_SEED_FILE")
	cfg.Directory.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.Directory.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if db := os.Getenv("REDIS_DB"); db != "" {
		if parsed, err := strconv.Atoi(db); err == nil && parsed >= 0 {
			cfg.Directory.RedisDB = parsed
		}
	}
	cfg.Directory.DatabaseURL = os.Getenv("DATABASE_URL")
	if size := os.Getenv("DIRECTORY_CACHE_SIZE"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil {
			cfg.Directory.CacheSize = parsed
		}
	}
	if ttl := os.Getenv("DIRECTORY_CACHE_TTL"); ttl != "" {
		cfg.Directory.CacheTTL = parseSeconds(ttl, cfg.Directory.CacheTTL)
	}

	// Session policy
	cfg.RequireActiveUser = parseBool(os.Getenv("REQUIRE_ACTIVE_USER"), cfg.RequireActiveUser)
	cfg.ExclusiveSessions = parseBool(os.Getenv("EXCLUSIVE_SESSIONS"), cfg.ExclusiveSessions)

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}
