// Package token mints and validates the signed tokens that represent an
// authenticated session.
//
// Access tokens are short-lived stateless JWTs. Refresh tokens are JWTs too,
// but their authority comes from membership in a persisted per-user set, so
// revocation is a set removal rather than a key rotation.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/driftlyhq/driftly/internal/platform/errors"
	"github.com/driftlyhq/driftly/internal/services/auth/storage"
)

const (
	// AccessTokenTTL bounds the stateless access token lifetime.
	AccessTokenTTL = 15 * time.Minute
	// RefreshTokenTTL bounds the renewable session lifetime.
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// RefreshNotAvailable is returned in place of a refresh token when the
// session has not completed second-factor verification. A partial session
// gets a single short-lived access token and must re-authenticate.
const RefreshNotAvailable = ""

// Claims are the signed claims carried by both token kinds.
type Claims struct {
	jwt.RegisteredClaims
	SecondFactorVerified bool `json:"isSecondFactorAuthenticated"`
}

// Pair bundles the tokens minted for one authentication.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Issuer mints and validates session tokens.
type Issuer struct {
	signingKey []byte
	store      storage.RefreshTokenStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      func() time.Time
}

// NewIssuer builds an issuer over a symmetric signing key and the persisted
// refresh-token set.
func NewIssuer(signingKey []byte, store storage.RefreshTokenStore) (*Issuer, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("token signing key is required")
	}
	if store == nil {
		return nil, errors.New("refresh token store is required")
	}
	return &Issuer{
		signingKey: signingKey,
		store:      store,
		accessTTL:  AccessTokenTTL,
		refreshTTL: RefreshTokenTTL,
		clock:      time.Now,
	}, nil
}

// AccessToken mints a short-lived stateless access token.
func (i *Issuer) AccessToken(userID string, secondFactorVerified bool) (string, error) {
	return i.sign(userID, secondFactorVerified, i.accessTTL)
}

// RefreshToken mints a refresh token and adds it to the user's persisted
// set. When the session has not proven its second factor the sentinel
// RefreshNotAvailable is returned instead.
func (i *Issuer) RefreshToken(ctx context.Context, userID string, secondFactorVerified bool) (string, error) {
	if !secondFactorVerified {
		return RefreshNotAvailable, nil
	}
	token, err := i.sign(userID, true, i.refreshTTL)
	if err != nil {
		return "", err
	}
	if err := i.store.AddRefreshToken(ctx, userID, token, i.clock().UTC()); err != nil {
		return "", fmt.Errorf("persist refresh token: %w", err)
	}
	return token, nil
}

// IssuePair mints the access/refresh pair for one authentication.
func (i *Issuer) IssuePair(ctx context.Context, userID string, secondFactorVerified bool) (Pair, error) {
	access, err := i.AccessToken(userID, secondFactorVerified)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.RefreshToken(ctx, userID, secondFactorVerified)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// ValidateAccess verifies an access token's signature and expiry.
func (i *Issuer) ValidateAccess(token string) (Claims, error) {
	claims, err := i.parse(token)
	if err != nil {
		return Claims{}, apperrors.Wrap(apperrors.CodeAccessTokenInvalid, "access token is invalid", err)
	}
	return claims, nil
}

// ValidateRefresh verifies a refresh token's signature and its membership in
// the user's persisted set. A revoked token has a valid signature but is no
// longer a member.
func (i *Issuer) ValidateRefresh(ctx context.Context, userID, token string) (Claims, error) {
	claims, err := i.parse(token)
	if err != nil {
		return Claims{}, apperrors.Wrap(apperrors.CodeRefreshTokenInvalid, "refresh token is invalid", err)
	}
	if claims.Subject != userID {
		return Claims{}, apperrors.New(apperrors.CodeRefreshTokenInvalid, "refresh token is invalid")
	}
	member, err := i.store.HasRefreshToken(ctx, userID, token)
	if err != nil {
		return Claims{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if !member {
		return Claims{}, apperrors.New(apperrors.CodeRefreshTokenInvalid, "refresh token is revoked")
	}
	return claims, nil
}

// Revoke removes one refresh token from the user's set.
func (i *Issuer) Revoke(ctx context.Context, userID, token string) error {
	if err := i.store.DeleteRefreshToken(ctx, userID, token); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll removes every refresh token issued to the user. A token minted
// concurrently with the removal may survive; revocation is a cleanup, not a
// mutual exclusion.
func (i *Issuer) RevokeAll(ctx context.Context, userID string) error {
	if err := i.store.DeleteRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

func (i *Issuer) sign(userID string, secondFactorVerified bool, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := i.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SecondFactorVerified: secondFactorVerified,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) parse(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.signingKey, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return i.clock().UTC() }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, err
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("token sub is required")
	}
	return claims, nil
}
