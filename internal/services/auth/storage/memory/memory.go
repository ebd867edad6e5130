// Package memory provides in-memory implementations of the auth storage
// contracts for tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/driftlyhq/driftly/internal/services/auth/storage"
	"github.com/driftlyhq/driftly/internal/services/auth/user"
)

// Store implements every auth storage contract over process memory.
type Store struct {
	mu            sync.Mutex
	users         map[string]user.User
	refreshTokens map[string]map[string]time.Time // userID -> token -> createdAt
	actionTokens  map[string]storage.ActionToken
}

// NewStore builds an empty in-memory store.
func NewStore() *Store {
	return &Store{
		users:         make(map[string]user.User),
		refreshTokens: make(map[string]map[string]time.Time),
		actionTokens:  make(map[string]storage.ActionToken),
	}
}

// PutUser inserts a new user record.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// UpdateUser rewrites an existing user record.
func (s *Store) UpdateUser(ctx context.Context, u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return storage.ErrNotFound
	}
	s.users[u.ID] = u
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

// GetUserByEmail returns a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

// GetUserByExternalID returns the user owning a provider external id.
func (s *Store) GetUserByExternalID(ctx context.Context, p user.Provider, externalID string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if externalID == "" {
		return user.User{}, storage.ErrNotFound
	}
	for _, u := range s.users {
		if u.ExternalID(p) == externalID {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

// AddRefreshToken adds a token to the user's revocable set.
func (s *Store) AddRefreshToken(ctx context.Context, userID, token string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.refreshTokens[userID]
	if !ok {
		set = make(map[string]time.Time)
		s.refreshTokens[userID] = set
	}
	set[token] = createdAt
	return nil
}

// HasRefreshToken reports set membership for a user's token.
func (s *Store) HasRefreshToken(ctx context.Context, userID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refreshTokens[userID][token]
	return ok, nil
}

// DeleteRefreshToken removes one token from the user's set.
func (s *Store) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens[userID], token)
	return nil
}

// DeleteRefreshTokens removes every token issued to the user.
func (s *Store) DeleteRefreshTokens(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens, userID)
	return nil
}

// PutActionToken persists an action token.
func (s *Store) PutActionToken(ctx context.Context, token storage.ActionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionTokens[token.ID] = token
	return nil
}

// GetActionToken returns an action token by id.
func (s *Store) GetActionToken(ctx context.Context, tokenID string) (storage.ActionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.actionTokens[tokenID]
	if !ok {
		return storage.ActionToken{}, storage.ErrNotFound
	}
	return token, nil
}

// DeleteActionToken removes an action token.
func (s *Store) DeleteActionToken(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actionTokens, tokenID)
	return nil
}

// DeleteActionTokensBefore removes tokens created before the cutoff.
func (s *Store) DeleteActionTokensBefore(ctx context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, token := range s.actionTokens {
		if token.CreatedAt.Before(cutoff) {
			delete(s.actionTokens, id)
		}
	}
	return nil
}
