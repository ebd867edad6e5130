// Package sqlite implements auth persistence over SQLite.
//
// A single SQLite file backs all durable identity state so every auth subflow
// shares the same transaction and visibility boundaries. The ephemeral
// pending-session table lives in the same file and is managed by the session
// package over the shared handle.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/driftlyhq/driftly/internal/platform/storage/sqlitemigrate"
	"github.com/driftlyhq/driftly/internal/services/auth/storage"
	"github.com/driftlyhq/driftly/internal/services/auth/storage/sqlite/migrations"
	"github.com/driftlyhq/driftly/internal/services/auth/user"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements the auth storage contracts over SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens an auth SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// DB returns the raw database handle for collaborators sharing the file,
// such as the session package's ephemeral store.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const userColumns = `id, email, password_hash, google_id, github_id,
	registered_with_google, registered_with_github, referrer_id,
	trial_end_date, is_active, two_factor_enabled, email_requests,
	created_at, updated_at`

// PutUser inserts a new user record.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash,
		nullable(u.GoogleID), nullable(u.GitHubID),
		boolToInt(u.RegisteredWithGoogle), boolToInt(u.RegisteredWithGithub),
		u.ReferrerID, toMillis(u.TrialEndDate),
		boolToInt(u.IsActive), boolToInt(u.IsTwoFactorAuthenticationEnabled),
		u.EmailRequests, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UpdateUser rewrites a user record.
func (s *Store) UpdateUser(ctx context.Context, u user.User) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE users SET
			email = ?, password_hash = ?, google_id = ?, github_id = ?,
			registered_with_google = ?, registered_with_github = ?,
			referrer_id = ?, trial_end_date = ?, is_active = ?,
			two_factor_enabled = ?, email_requests = ?, updated_at = ?
		WHERE id = ?`,
		u.Email, u.PasswordHash,
		nullable(u.GoogleID), nullable(u.GitHubID),
		boolToInt(u.RegisteredWithGoogle), boolToInt(u.RegisteredWithGithub),
		u.ReferrerID, toMillis(u.TrialEndDate), boolToInt(u.IsActive),
		boolToInt(u.IsTwoFactorAuthenticationEnabled), u.EmailRequests,
		toMillis(u.UpdatedAt), u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	return scanUser(row)
}

// GetUserByEmail returns a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// GetUserByExternalID returns the user owning a provider external id.
func (s *Store) GetUserByExternalID(ctx context.Context, p user.Provider, externalID string) (user.User, error) {
	column, err := externalIDColumn(p)
	if err != nil {
		return user.User{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, externalID)
	return scanUser(row)
}

func externalIDColumn(p user.Provider) (string, error) {
	switch p {
	case user.ProviderGoogle:
		return "google_id", nil
	case user.ProviderGitHub:
		return "github_id", nil
	}
	return "", fmt.Errorf("unsupported provider %q", p)
}

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	var googleID, githubID sql.NullString
	var registeredGoogle, registeredGithub, isActive, twoFactor int
	var trialEnd, createdAt, updatedAt int64
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &googleID, &githubID,
		&registeredGoogle, &registeredGithub, &u.ReferrerID,
		&trialEnd, &isActive, &twoFactor, &u.EmailRequests,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.GoogleID = googleID.String
	u.GitHubID = githubID.String
	u.RegisteredWithGoogle = registeredGoogle != 0
	u.RegisteredWithGithub = registeredGithub != 0
	u.IsActive = isActive != 0
	u.IsTwoFactorAuthenticationEnabled = twoFactor != 0
	u.TrialEndDate = fromMillis(trialEnd)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

// AddRefreshToken adds a token to the user's revocable set.
func (s *Store) AddRefreshToken(ctx context.Context, userID, token string, createdAt time.Time) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO refresh_tokens (user_id, token, created_at) VALUES (?, ?, ?)`,
		userID, token, toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("add refresh token: %w", err)
	}
	return nil
}

// HasRefreshToken reports set membership for a user's token.
func (s *Store) HasRefreshToken(ctx context.Context, userID, token string) (bool, error) {
	var found int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM refresh_tokens WHERE user_id = ? AND token = ?`,
		userID, token,
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup refresh token: %w", err)
	}
	return true, nil
}

// DeleteRefreshToken removes one token from the user's set.
func (s *Store) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = ? AND token = ?`,
		userID, token,
	)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteRefreshTokens removes every token issued to the user.
func (s *Store) DeleteRefreshTokens(ctx context.Context, userID string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete refresh tokens: %w", err)
	}
	return nil
}

// PutActionToken persists an action token.
func (s *Store) PutActionToken(ctx context.Context, token storage.ActionToken) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO action_tokens (id, user_id, kind, new_value, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		token.ID, token.UserID, token.Kind, token.NewValue, toMillis(token.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert action token: %w", err)
	}
	return nil
}

// GetActionToken returns an action token by id.
func (s *Store) GetActionToken(ctx context.Context, tokenID string) (storage.ActionToken, error) {
	var token storage.ActionToken
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, user_id, kind, new_value, created_at FROM action_tokens WHERE id = ?`,
		tokenID,
	).Scan(&token.ID, &token.UserID, &token.Kind, &token.NewValue, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ActionToken{}, storage.ErrNotFound
		}
		return storage.ActionToken{}, fmt.Errorf("scan action token: %w", err)
	}
	token.CreatedAt = fromMillis(createdAt)
	return token, nil
}

// DeleteActionToken removes an action token.
func (s *Store) DeleteActionToken(ctx context.Context, tokenID string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM action_tokens WHERE id = ?`, tokenID)
	if err != nil {
		return fmt.Errorf("delete action token: %w", err)
	}
	return nil
}

// DeleteActionTokensBefore removes tokens created before the cutoff.
func (s *Store) DeleteActionTokensBefore(ctx context.Context, cutoff time.Time) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM action_tokens WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return fmt.Errorf("delete expired action tokens: %w", err)
	}
	return nil
}

// nullable maps the empty string to NULL so partial unique indexes apply
// only to populated external ids.
func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
