package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the part of pgxpool.Pool the Postgres directory uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const lookupUserSQL = `SELECT "fullName", "isActive" FROM users WHERE id = $1`

// Postgres reads users from the users table of the main application database.
type Postgres struct {
	db Querier
}

// NewPostgres wraps a pool or connection.
func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

// Lookup implements Directory.
func (p *Postgres) Lookup(ctx context.Context, userID string) (User, error) {
	u := User{ID: userID}
	err := p.db.QueryRow(ctx, lookupUserSQL, userID).Scan(&u.FullName, &u.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("postgres lookup %s: %w", userID, err)
	}
	return u, nil
}
