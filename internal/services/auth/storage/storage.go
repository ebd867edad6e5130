package storage

import (
	"context"
	"time"

	"github.com/driftlyhq/driftly/internal/platform/errors"
	"github.com/driftlyhq/driftly/internal/services/auth/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// UserStore persists durable account records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	UpdateUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	GetUserByExternalID(ctx context.Context, p user.Provider, externalID string) (user.User, error)
}

// ActionToken is a single-use, purpose-scoped token mailed to a user to
// authorize a sensitive account change.
type ActionToken struct {
	ID        string
	UserID    string
	Kind      string
	NewValue  string // pending email for EMAIL_CHANGE, empty otherwise
	CreatedAt time.Time
}

// ActionTokenStore persists action tokens.
type ActionTokenStore interface {
	PutActionToken(ctx context.Context, token ActionToken) error
	GetActionToken(ctx context.Context, tokenID string) (ActionToken, error)
	DeleteActionToken(ctx context.Context, tokenID string) error
	DeleteActionTokensBefore(ctx context.Context, cutoff time.Time) error
}

// RefreshTokenStore persists the revocable refresh-token set per user.
type RefreshTokenStore interface {
	AddRefreshToken(ctx context.Context, userID, token string, createdAt time.Time) error
	HasRefreshToken(ctx context.Context, userID, token string) (bool, error)
	DeleteRefreshToken(ctx context.Context, userID, token string) error
	DeleteRefreshTokens(ctx context.Context, userID string) error
}
