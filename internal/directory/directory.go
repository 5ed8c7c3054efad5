// Package directory resolves user ids to the profile data the gateway shows
// to other participants.
package directory

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned by Lookup when the id is unknown.
var ErrUserNotFound = errors.New("directory: user not found")

// User is the subset of a user record the gateway needs.
type User struct {
	ID       string `json:"id" yaml:"id"`
	FullName string `json:"fullName" yaml:"fullName"`
	Active   bool   `json:"isActive" yaml:"isActive"`
}

// Directory looks users up by id.
type Directory interface {
	Lookup(ctx context.Context, userID string) (User, error)
}
