package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLStore is a SQLite-backed ephemeral store.
//
// It shares the durable store's database handle so every service instance
// observes the same slots. TakeDelete relies on `DELETE ... RETURNING` for
// its atomic read-then-delete: concurrent consumers race on the row and
// exactly one gets it back.
type SQLStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLStore builds a store over an open database handle. The
// pending_sessions table is created by the durable store's migrations.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, clock: time.Now}
}

// Put stores a value under key with the given TTL, replacing any prior value.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := s.clock().UTC().Add(ttl).UnixMilli()
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_sessions (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	return err
}

// TakeDelete atomically reads and removes the value under key. Rows whose
// TTL elapsed are indistinguishable from absent ones.
func (s *SQLStore) TakeDelete(ctx context.Context, key string) ([]byte, bool, error) {
	now := s.clock().UTC().UnixMilli()
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM pending_sessions WHERE key = ? AND expires_at > ? RETURNING value`,
		key, now,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// CleanupExpired drops rows whose TTL elapsed.
func (s *SQLStore) CleanupExpired(now time.Time) {
	if s == nil || s.db == nil {
		return
	}
	_, _ = s.db.Exec(`DELETE FROM pending_sessions WHERE expires_at <= ?`, now.UTC().UnixMilli())
}
