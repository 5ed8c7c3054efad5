package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached fronts a slower directory with an expiring LRU. Only successful
// lookups are cached so newly created users become visible immediately.
type Cached struct {
	next  Directory
	cache *expirable.LRU[string, User]
}

// NewCached wraps next. size <= 0 means 1024 entries, ttl <= 0 means a minute.
func NewCached(next Directory, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, User](size, nil, ttl),
	}
}

// Lookup implements Directory.
func (c *Cached) Lookup(ctx context.Context, userID string) (User, error) {
	if u, ok := c.cache.Get(userID); ok {
		return u, nil
	}
	u, err := c.next.Lookup(ctx, userID)
	if err != nil {
		return User{}, err
	}
	c.cache.Add(userID, u)
	return u, nil
}
