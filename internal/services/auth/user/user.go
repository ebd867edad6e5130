// Package user provides the durable account model for the auth core.
package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/driftlyhq/driftly/internal/platform/errors"
	"github.com/driftlyhq/driftly/internal/platform/id"
)

// TrialPeriod is the paid-feature window granted to every new account.
const TrialPeriod = 30 * 24 * time.Hour

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeUserEmailInvalid, "email is required")
	// ErrInvalidEmail indicates an email that does not look like an address.
	ErrInvalidEmail = apperrors.New(apperrors.CodeUserEmailInvalid, "email must be a valid address")

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Provider identifies a supported external identity provider.
type Provider string

const (
	// ProviderGoogle is the Google SSO provider tag.
	ProviderGoogle Provider = "google"
	// ProviderGitHub is the GitHub SSO provider tag.
	ProviderGitHub Provider = "github"
)

// User represents a durable account record.
type User struct {
	ID                               string
	Email                            string
	PasswordHash                     string // empty for SSO-only accounts
	GoogleID                         string
	GitHubID                         string
	RegisteredWithGoogle             bool
	RegisteredWithGithub             bool
	ReferrerID                       string
	TrialEndDate                     time.Time
	IsActive                         bool
	IsTwoFactorAuthenticationEnabled bool
	EmailRequests                    int
	CreatedAt                        time.Time
	UpdatedAt                        time.Time
}

// ExternalID returns the stored external id for a provider.
func (u User) ExternalID(p Provider) string {
	switch p {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderGitHub:
		return u.GitHubID
	}
	return ""
}

// SetExternalID attaches an external id for a provider.
func (u *User) SetExternalID(p Provider, externalID string) {
	switch p {
	case ProviderGoogle:
		u.GoogleID = externalID
	case ProviderGitHub:
		u.GitHubID = externalID
	}
}

// ClearExternalID removes the external id for a provider.
func (u *User) ClearExternalID(p Provider) {
	u.SetExternalID(p, "")
}

// RegisteredWith reports whether the account's origin registration method is
// the given provider. Accounts may only unlink providers they did not
// register with, so a login method always remains.
func (u User) RegisteredWith(p Provider) bool {
	switch p {
	case ProviderGoogle:
		return u.RegisteredWithGoogle
	case ProviderGitHub:
		return u.RegisteredWithGithub
	}
	return false
}

// ProvisionInput describes the claims needed to provision an SSO account.
type ProvisionInput struct {
	Provider   Provider
	ExternalID string
	Email      string
	ReferrerID string
}

// Provision creates a durable account from validated SSO claims.
//
// The account starts active because the provider already proved ownership of
// the email address; password registrations go through the verification flow
// instead.
func Provision(input ProvisionInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	u := User{
		ID:           userID,
		Email:        email,
		ReferrerID:   input.ReferrerID,
		TrialEndDate: createdAt.Add(TrialPeriod),
		IsActive:     true,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	u.SetExternalID(input.Provider, input.ExternalID)
	switch input.Provider {
	case ProviderGoogle:
		u.RegisteredWithGoogle = true
	case ProviderGitHub:
		u.RegisteredWithGithub = true
	}
	return u, nil
}

// NormalizeEmail trims, lowercases, and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmptyEmail
	}
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}
