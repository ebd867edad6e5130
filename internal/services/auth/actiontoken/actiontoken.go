// Package actiontoken manages single-use tokens for mail-confirmed account
// actions: email verification, password reset, and email change.
//
// A token is an opaque unguessable id persisted with its kind and an optional
// pending value. Confirmation treats a kind mismatch exactly like an absent
// token, so a caller probing a leaked id learns nothing about which check
// failed.
package actiontoken

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/driftlyhq/driftly/internal/platform/errors"
	"github.com/driftlyhq/driftly/internal/platform/id"
	"github.com/driftlyhq/driftly/internal/services/auth/mailer"
	"github.com/driftlyhq/driftly/internal/services/auth/storage"
	"github.com/driftlyhq/driftly/internal/services/auth/user"
)

// Kind names a confirmable account action.
type Kind string

const (
	// KindEmailVerification activates a password-registered account.
	KindEmailVerification Kind = "email_verification"
	// KindPasswordReset authorizes replacing the password hash.
	KindPasswordReset Kind = "password_reset"
	// KindEmailChange authorizes replacing the account email.
	KindEmailChange Kind = "email_change"
)

// TTL bounds how long an unconsumed token stays usable. Expired tokens read
// as not-found and are swept by the cleanup ticker.
const TTL = 24 * time.Hour

// VerificationSendCap bounds verification-mail dispatches per account. The
// counter stops advancing once the cap is reached and resets on successful
// verification.
const VerificationSendCap = 3

// ErrNotFound covers absent, expired, and kind-mismatched tokens alike.
var ErrNotFound = apperrors.New(apperrors.CodeActionTokenNotFound, "action token not found")

// BreachChecker reports whether a candidate password appears in a breach
// corpus.
type BreachChecker interface {
	IsBreached(ctx context.Context, password string) (bool, error)
}

// SessionRevoker invalidates every refresh token a user holds.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID string) error
}

// Service orchestrates the token lifecycle and its consumption effects.
type Service struct {
	users   storage.UserStore
	tokens  storage.ActionTokenStore
	mail    mailer.Mailer
	revoker SessionRevoker
	breach  BreachChecker
	baseURL string

	newID func() (string, error)
	clock func() time.Time
}

// NewService builds the action token service. baseURL is the public origin
// confirmation links are built against.
func NewService(users storage.UserStore, tokens storage.ActionTokenStore, mail mailer.Mailer, revoker SessionRevoker, breach BreachChecker, baseURL string) (*Service, error) {
	if users == nil || tokens == nil {
		return nil, errors.New("user and action token stores are required")
	}
	if mail == nil {
		return nil, errors.New("mailer is required")
	}
	return &Service{
		users:   users,
		tokens:  tokens,
		mail:    mail,
		revoker: revoker,
		breach:  breach,
		baseURL: baseURL,
		newID:   id.NewID,
		clock:   time.Now,
	}, nil
}

// Create persists a fresh token for the user and kind.
func (s *Service) Create(ctx context.Context, userID string, kind Kind, newValue string) (storage.ActionToken, error) {
	tokenID, err := s.newID()
	if err != nil {
		return storage.ActionToken{}, fmt.Errorf("generate action token id: %w", err)
	}
	token := storage.ActionToken{
		ID:        tokenID,
		UserID:    userID,
		Kind:      string(kind),
		NewValue:  newValue,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.tokens.PutActionToken(ctx, token); err != nil {
		return storage.ActionToken{}, fmt.Errorf("persist action token: %w", err)
	}
	return token, nil
}

// Find returns a live token by id. Expired tokens read as not-found.
func (s *Service) Find(ctx context.Context, tokenID string) (storage.ActionToken, error) {
	token, err := s.tokens.GetActionToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ActionToken{}, ErrNotFound
		}
		return storage.ActionToken{}, fmt.Errorf("lookup action token: %w", err)
	}
	if s.clock().UTC().Sub(token.CreatedAt) > TTL {
		return storage.ActionToken{}, ErrNotFound
	}
	return token, nil
}

// confirm returns a live token whose kind matches. A mismatch is
// indistinguishable from absence.
func (s *Service) confirm(ctx context.Context, tokenID string, kind Kind) (storage.ActionToken, error) {
	token, err := s.Find(ctx, tokenID)
	if err != nil {
		return storage.ActionToken{}, err
	}
	if token.Kind != string(kind) {
		return storage.ActionToken{}, ErrNotFound
	}
	return token, nil
}

// RequestEmailVerification creates a verification token and mails its link.
// Dispatches beyond the send cap are refused.
func (s *Service) RequestEmailVerification(ctx context.Context, userID string) error {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeUserNotFound, "user not found")
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if u.EmailRequests >= VerificationSendCap {
		return apperrors.New(apperrors.CodeVerificationThrottle, "verification email limit reached")
	}

	token, err := s.Create(ctx, userID, KindEmailVerification, "")
	if err != nil {
		return err
	}
	err = s.mail.Send(ctx, mailer.TemplateEmailVerification, u.Email, map[string]string{
		"Link": s.baseURL + "/auth/verify/" + token.ID,
	})
	if err != nil {
		return fmt.Errorf("send verification mail: %w", err)
	}

	u.EmailRequests++
	u.UpdatedAt = s.clock().UTC()
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("record verification send: %w", err)
	}
	return nil
}

// ConfirmEmailVerification consumes a verification token, activates the
// account, and resets the send counter.
func (s *Service) ConfirmEmailVerification(ctx context.Context, tokenID string) error {
	token, err := s.confirm(ctx, tokenID, KindEmailVerification)
	if err != nil {
		return err
	}
	u, err := s.users.GetUser(ctx, token.UserID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	u.IsActive = true
	u.EmailRequests = 0
	u.UpdatedAt = s.clock().UTC()
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("activate user: %w", err)
	}
	if err := s.tokens.DeleteActionToken(ctx, token.ID); err != nil {
		return fmt.Errorf("consume action token: %w", err)
	}
	return nil
}

// RequestPasswordReset creates a reset token for the address and mails its
// link.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return apperrors.New(apperrors.CodeUserEmailInvalid, "email is invalid")
	}
	u, err := s.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeUserNotFound, "user not found")
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	token, err := s.Create(ctx, u.ID, KindPasswordReset, "")
	if err != nil {
		return err
	}
	err = s.mail.Send(ctx, mailer.TemplatePasswordReset, u.Email, map[string]string{
		"Link": s.baseURL + "/auth/password-reset/" + token.ID,
	})
	if err != nil {
		return fmt.Errorf("send password reset mail: %w", err)
	}
	return nil
}

// ConfirmPasswordReset consumes a reset token, replaces the password hash,
// and revokes every refresh token so existing sessions must log in again.
// Breached candidate passwords are refused.
func (s *Service) ConfirmPasswordReset(ctx context.Context, tokenID, newPassword string) error {
	token, err := s.confirm(ctx, tokenID, KindPasswordReset)
	if err != nil {
		return err
	}
	if newPassword == "" {
		return apperrors.New(apperrors.CodePasswordInvalid, "password is required")
	}

	if s.breach != nil {
		breached, err := s.breach.IsBreached(ctx, newPassword)
		if err != nil {
			return err
		}
		if breached {
			return apperrors.New(apperrors.CodePasswordBreached, "password appears in a known breach")
		}
	}

	u, err := s.users.GetUser(ctx, token.UserID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	u.PasswordHash = string(hash)
	u.UpdatedAt = s.clock().UTC()
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("store password hash: %w", err)
	}
	if s.revoker != nil {
		if err := s.revoker.RevokeAll(ctx, u.ID); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
	}
	if err := s.tokens.DeleteActionToken(ctx, token.ID); err != nil {
		return fmt.Errorf("consume action token: %w", err)
	}
	return nil
}

// RequestEmailChange creates a change token carrying the pending address and
// mails a confirmation link to that address.
func (s *Service) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	normalized, err := user.NormalizeEmail(newEmail)
	if err != nil {
		return apperrors.New(apperrors.CodeUserEmailInvalid, "email is invalid")
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeUserNotFound, "user not found")
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	token, err := s.Create(ctx, userID, KindEmailChange, normalized)
	if err != nil {
		return err
	}
	err = s.mail.Send(ctx, mailer.TemplateEmailChangeConfirm, normalized, map[string]string{
		"Link": s.baseURL + "/auth/email-change/" + token.ID,
	})
	if err != nil {
		return fmt.Errorf("send email change mail: %w", err)
	}
	return nil
}

// ConfirmEmailChange consumes a change token, replaces the account email,
// and notifies both the old and new address. Notification failures are
// logged, never fatal: the change already happened.
func (s *Service) ConfirmEmailChange(ctx context.Context, tokenID string) error {
	token, err := s.confirm(ctx, tokenID, KindEmailChange)
	if err != nil {
		return err
	}
	if token.NewValue == "" {
		return ErrNotFound
	}
	u, err := s.users.GetUser(ctx, token.UserID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	oldEmail := u.Email
	u.Email = token.NewValue
	u.UpdatedAt = s.clock().UTC()
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("store email: %w", err)
	}
	if err := s.tokens.DeleteActionToken(ctx, token.ID); err != nil {
		return fmt.Errorf("consume action token: %w", err)
	}

	vars := map[string]string{"NewEmail": u.Email}
	for _, address := range []string{oldEmail, u.Email} {
		if address == "" {
			continue
		}
		if err := s.mail.Send(ctx, mailer.TemplateEmailChangedNotice, address, vars); err != nil {
			log.Printf("email change notice to %s failed: %v", address, err)
		}
	}
	return nil
}

// CleanupExpired sweeps tokens whose TTL elapsed before now.
func (s *Service) CleanupExpired(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tokens.DeleteActionTokensBefore(ctx, now.UTC().Add(-TTL)); err != nil {
		log.Printf("action token cleanup failed: %v", err)
	}
}
