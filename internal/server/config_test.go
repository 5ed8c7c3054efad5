package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, int64(512), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.SendBufferSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "authentication", cfg.Auth.TokenHeader)
	assert.Equal(t, "memory", cfg.Directory.Backend)
	assert.False(t, cfg.RequireActiveUser)
	assert.False(t, cfg.ExclusiveSessions)
	assert.Error(t, cfg.Validate())
}

func TestSetConfigSanitizes(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	SetConfig(&Config{
		AllowedOrigins: []string{" HTTP://Example.COM ", "not-a-url", ""},
		Auth:           AuthConfig{Secret: "s"},
	})
	cfg := CurrentConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, int64(512), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.SendBufferSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "authentication", cfg.Auth.TokenHeader)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"http://example.com"}, cfg.AllowedOrigins)

	// The returned copy must not alias the active configuration.
	cfg.AllowedOrigins[0] = "mutated"
	assert.Equal(t, []string{"http://example.com"}, CurrentConfig().AllowedOrigins)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("SEND_BUFFER_SIZE", "64")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("JWT_SECRET", "top-secret")
	t.Setenv("JWT_ALGORITHM", "HS512")
	t.Setenv("TOKEN_HEADER", "x-token")
	t.Setenv("JWT_LEEWAY", "30")
	t.Setenv("DIRECTORY_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("DIRECTORY_CACHE_SIZE", "-1")
	t.Setenv("DIRECTORY_CACHE_TTL", "120")
	t.Setenv("REQUIRE_ACTIVE_USER", "true")
	t.Setenv("EXCLUSIVE_SESSIONS", "1")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("SHUTDOWN_TIMEOUT", "5")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, 64, cfg.SendBufferSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, AuthConfig{Secret: "top-secret", Algorithm: "HS512", TokenHeader: "x-token", Leeway: 30 * time.Second}, cfg.Auth)
	assert.Equal(t, "redis", cfg.Directory.Backend)
	assert.Equal(t, "localhost:6379", cfg.Directory.RedisAddr)
	assert.Equal(t, 2, cfg.Directory.RedisDB)
	assert.Equal(t, -1, cfg.Directory.CacheSize)
	assert.Equal(t, 2*time.Minute, cfg.Directory.CacheTTL)
	assert.True(t, cfg.RequireActiveUser)
	assert.True(t, cfg.ExclusiveSessions)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestNewConfigFromEnvInvalidValuesKeepDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("MAX_MESSAGE_SIZE", "-5")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "0")
	t.Setenv("EXCLUSIVE_SESSIONS", "maybe")
	t.Setenv("REDIS_DB", "-3")

	cfg := NewConfigFromEnv()
	assert.Equal(t, int64(512), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.False(t, cfg.ExclusiveSessions)
	assert.Equal(t, 0, cfg.Directory.RedisDB)
}

func TestNewConfigFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=from-dotenv\nTOKEN_HEADER=x-auth\n"), 0o600))

	// godotenv does not override variables that are already set.
	t.Setenv("JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))
	t.Setenv("TOKEN_HEADER", "from-env")

	cfg := NewConfigFromEnv()
	assert.Equal(t, "from-dotenv", cfg.Auth.Secret)
	assert.Equal(t, "from-env", cfg.Auth.TokenHeader)
}
