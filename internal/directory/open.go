package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config selects and configures a directory backend.
type Config struct {
	Backend       string
	SeedFile      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string
	// CacheSize bounds the LRU in front of remote backends; negative disables it.
	CacheSize int
	CacheTTL  time.Duration
}

// Open builds the configured directory. The returned close function releases
// backend connections and is never nil.
func Open(ctx context.Context, cfg Config) (Directory, func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		if cfg.SeedFile == "" {
			return NewMemory(), noop, nil
		}
		m, err := LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil

	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		dir := NewRedis(client, "")
		if cfg.SeedFile != "" {
			if _, err := dir.Seed(ctx, cfg.SeedFile); err != nil {
				_ = client.Close()
				return nil, noop, fmt.Errorf("seed redis: %w", err)
			}
		}
		return withCache(dir, cfg), func() { _ = client.Close() }, nil

	case BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("connect postgres: %w", err)
		}
		return withCache(NewPostgres(pool), cfg), pool.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown directory backend %q", cfg.Backend)
	}
}

func withCache(d Directory, cfg Config) Directory {
	if cfg.CacheSize < 0 {
		return d
	}
	return NewCached(d, cfg.CacheSize, cfg.CacheTTL)
}
