package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Memory is an in-process directory, used for development and tests.
type Memory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemory returns a directory holding the given users.
func NewMemory(users ...User) *Memory {
	m := &Memory{users: make(map[string]User, len(users))}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

// Put inserts or replaces a user.
func (m *Memory) Put(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// Delete removes a user if present.
func (m *Memory) Delete(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}

// Users returns a copy of every stored user, ordered by id.
func (m *Memory) Users() []User {
	m.mu.RLock()
	users := make([]User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	m.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// Lookup implements Directory.
func (m *Memory) Lookup(_ context.Context, userID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

type seedFile struct {
	Users []User `yaml:"users"`
}

// LoadSeedFile reads a YAML file of the form
//
//	users:
//	  - id: u1
//	    fullName: Ada Lovelace
//	    isActive: true
//
// into a Memory directory.
func LoadSeedFile(path string) (*Memory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i, u := range seed.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("parse seed file %s: user #%d has no id", path, i+1)
		}
	}
	return NewMemory(seed.Users...), nil
}
