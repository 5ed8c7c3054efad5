package server

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Tyrowin/presencegw/internal/directory"
)

// Registry maps authenticated connection ids to user ids. It is the source of
// truth for who is online. All methods are safe for concurrent use; the lock
// is held only for the map operation itself.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]string
	directory directory.Directory
	log       *zap.Logger
}

// NewRegistry creates an empty registry resolving names through dir.
func NewRegistry(dir directory.Directory, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		conns:     make(map[string]string),
		directory: dir,
		log:       log,
	}
}

// Register inserts or overwrites the mapping for connID.
func (r *Registry) Register(connID, userID string) {
	r.mu.Lock()
	r.conns[connID] = userID
	r.mu.Unlock()
}

// Remove deletes the mapping for connID and reports whether it existed.
func (r *Registry) Remove(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return false
	}
	delete(r.conns, connID)
	return true
}

// UserID returns the user registered for connID.
func (r *Registry) UserID(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.conns[connID]
	return userID, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ConnectedUserIDs returns a sorted copy of the distinct connected user ids.
func (r *Registry) ConnectedUserIDs() []string {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(r.conns))
	for _, userID := range r.conns {
		seen[userID] = struct{}{}
	}
	r.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for userID := range seen {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

// Connections returns a copy of the full connection-id to user-id mapping.
func (r *Registry) Connections() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.conns))
	for connID, userID := range r.conns {
		out[connID] = userID
	}
	return out
}

// ResolveDisplayName returns the full name of the user behind connID, or ""
// when the connection is not registered or the directory cannot answer.
func (r *Registry) ResolveDisplayName(ctx context.Context, connID string) string {
	userID, ok := r.UserID(connID)
	if !ok {
		r.log.Debug("display name lookup for unregistered connection", zap.String("conn", connID))
		return ""
	}
	if r.directory == nil {
		return ""
	}

	user, err := r.directory.Lookup(ctx, userID)
	switch {
	case errors.Is(err, directory.ErrUserNotFound):
		r.log.Debug("user not in directory", zap.String("conn", connID), zap.String("user", userID))
		return ""
	case err != nil:
		r.log.Warn("directory lookup failed", zap.String("conn", connID), zap.String("user", userID), zap.Error(err))
		return ""
	}
	return user.FullName
}
