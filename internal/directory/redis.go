package directory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis reads users from hashes stored at "<prefix><id>" with the fields
// fullName and isActive.
type Redis struct {
	client redis.Cmdable
	prefix string
}

// DefaultRedisPrefix is the key prefix used when none is given.
const DefaultRedisPrefix = "user:"

// NewRedis wraps an existing client. An empty prefix means DefaultRedisPrefix.
func NewRedis(client redis.Cmdable, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(userID string) string { return r.prefix + userID }

// Lookup implements Directory.
func (r *Redis) Lookup(ctx context.Context, userID string) (User, error) {
	fields, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return User{}, fmt.Errorf("redis lookup %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return User{}, ErrUserNotFound
	}
	active, _ := strconv.ParseBool(fields["isActive"])
	return User{ID: userID, FullName: fields["fullName"], Active: active}, nil
}

// Save writes a user hash.
func (r *Redis) Save(ctx context.Context, u User) error {
	err := r.client.HSet(ctx, r.key(u.ID),
		"fullName", u.FullName,
		"isActive", strconv.FormatBool(u.Active),
	).Err()
	if err != nil {
		return fmt.Errorf("redis save %s: %w", u.ID, err)
	}
	return nil
}

// Seed writes every user from a YAML seed file into Redis.
func (r *Redis) Seed(ctx context.Context, path string) (int, error) {
	seed, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	users := seed.Users()
	for _, u := range users {
		if err := r.Save(ctx, u); err != nil {
			return 0, err
		}
	}
	return len(users), nil
}
