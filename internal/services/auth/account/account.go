// Package account turns consumed provider claims into durable accounts and
// sessions, and manages the identity links between accounts and providers.
package account

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/driftlyhq/driftly/internal/platform/errors"
	"github.com/driftlyhq/driftly/internal/services/auth/geoip"
	"github.com/driftlyhq/driftly/internal/services/auth/notify"
	"github.com/driftlyhq/driftly/internal/services/auth/session"
	"github.com/driftlyhq/driftly/internal/services/auth/storage"
	"github.com/driftlyhq/driftly/internal/services/auth/token"
	"github.com/driftlyhq/driftly/internal/services/auth/user"
)

// RequestContext carries the request-origin facts a login notification
// mentions.
type RequestContext struct {
	IP        string
	UserAgent string
}

// Result is the outcome of an authentication round-trip.
//
// When the account requires a second factor the projection is reduced: User
// carries only the email and the two-factor flag, the refresh token is the
// not-available sentinel, and ProjectIDs is empty.
type Result struct {
	AccessToken      string
	RefreshToken     string
	User             user.User
	ProjectIDs       []string
	TwoFactorPending bool
}

// TokenIssuer mints the session pair for an authenticated user.
type TokenIssuer interface {
	IssuePair(ctx context.Context, userID string, secondFactorVerified bool) (token.Pair, error)
}

// ProjectsRepo lists the projects shared with a user, for the session body.
type ProjectsRepo interface {
	SharedProjectIDs(ctx context.Context, userID string) ([]string, error)
}

// ReferralResolver maps a referral code to a referrer user id. Every
// failure degrades to no referrer.
type ReferralResolver interface {
	Resolve(ctx context.Context, refCode string) (string, error)
}

// Linker authenticates provider round-trips and manages identity links.
type Linker struct {
	users     storage.UserStore
	broker    *session.Broker
	issuer    TokenIssuer
	projects  ProjectsRepo
	referrals ReferralResolver
	notifier  notify.Notifier
	geo       geoip.Resolver
}

// NewLinker builds a linker. projects, referrals, notifier, and geo are
// optional collaborators.
func NewLinker(users storage.UserStore, broker *session.Broker, issuer TokenIssuer, projects ProjectsRepo, referrals ReferralResolver, notifier notify.Notifier, geo geoip.Resolver) (*Linker, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if broker == nil {
		return nil, errors.New("session broker is required")
	}
	if issuer == nil {
		return nil, errors.New("token issuer is required")
	}
	return &Linker{
		users:     users,
		broker:    broker,
		issuer:    issuer,
		projects:  projects,
		referrals: referrals,
		notifier:  notifier,
		geo:       geo,
	}, nil
}

// Authenticate consumes the session slot under key and resolves it into a
// session, provisioning a new account when the external id is unknown.
func (l *Linker) Authenticate(ctx context.Context, key session.Key, reqCtx RequestContext, refCode string) (Result, error) {
	ctx, span := otel.Tracer("auth/account").Start(ctx, "account.Authenticate",
		trace.WithAttributes(attribute.String("provider", string(key.Provider))))
	defer span.End()

	claims, err := l.broker.Consume(ctx, key)
	if err != nil {
		return Result{}, err
	}

	existing, err := l.users.GetUserByExternalID(ctx, key.Provider, claims.ExternalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return l.provision(ctx, key.Provider, claims, refCode)
		}
		return Result{}, fmt.Errorf("lookup user by external id: %w", err)
	}
	return l.login(ctx, existing, key.Provider, claims, reqCtx)
}

func (l *Linker) provision(ctx context.Context, provider user.Provider, claims session.Claims, refCode string) (Result, error) {
	referrerID := l.resolveReferrer(ctx, refCode)
	u, err := user.Provision(user.ProvisionInput{
		Provider:   provider,
		ExternalID: claims.ExternalID,
		Email:      claims.Email,
		ReferrerID: referrerID,
	}, nil, nil)
	if err != nil {
		return Result{}, err
	}
	if err := l.users.PutUser(ctx, u); err != nil {
		return Result{}, fmt.Errorf("create user: %w", err)
	}

	pair, err := l.issuer.IssuePair(ctx, u.ID, true)
	if err != nil {
		return Result{}, err
	}
	return Result{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         u,
	}, nil
}

func (l *Linker) login(ctx context.Context, u user.User, provider user.Provider, claims session.Claims, reqCtx RequestContext) (Result, error) {
	// A consumed slot pointing at a user whose stored external id differs
	// means the durable state diverged from the claims that found it.
	if u.ExternalID(provider) != claims.ExternalID {
		return Result{}, apperrors.New(apperrors.CodeIdentityMismatch, "stored identity does not match provider claims")
	}

	l.notifyLogin(ctx, u, provider, reqCtx)

	if u.IsTwoFactorAuthenticationEnabled {
		pair, err := l.issuer.IssuePair(ctx, u.ID, false)
		if err != nil {
			return Result{}, err
		}
		return Result{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			User: user.User{
				Email:                            u.Email,
				IsTwoFactorAuthenticationEnabled: true,
			},
			TwoFactorPending: true,
		}, nil
	}

	pair, err := l.issuer.IssuePair(ctx, u.ID, true)
	if err != nil {
		return Result{}, err
	}
	var projectIDs []string
	if l.projects != nil {
		projectIDs, err = l.projects.SharedProjectIDs(ctx, u.ID)
		if err != nil {
			return Result{}, fmt.Errorf("list shared projects: %w", err)
		}
	}
	return Result{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         u,
		ProjectIDs:   projectIDs,
	}, nil
}

// Link attaches the external identity under key to the user. When the
// identity already belongs to someone else the link fails with a conflict
// and the target user is left unchanged.
func (l *Linker) Link(ctx context.Context, userID string, key session.Key) error {
	claims, err := l.broker.Consume(ctx, key)
	if err != nil {
		return err
	}

	owner, err := l.users.GetUserByExternalID(ctx, key.Provider, claims.ExternalID)
	switch {
	case err == nil:
		if owner.ID != userID {
			return apperrors.New(apperrors.CodeIdentityAlreadyLinked, "identity is linked to another account")
		}
		return nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		return fmt.Errorf("lookup identity owner: %w", err)
	}

	u, err := l.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeUserNotFound, "user not found")
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	u.SetExternalID(key.Provider, claims.ExternalID)
	if err := l.users.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("store identity link: %w", err)
	}
	return nil
}

// Unlink detaches the provider identity from the user. The provider the
// account was registered through cannot be unlinked; that would strand the
// account with no login method.
func (l *Linker) Unlink(ctx context.Context, userID string, provider user.Provider) error {
	u, err := l.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeUserNotFound, "user not found")
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if u.RegisteredWith(provider) {
		return apperrors.New(apperrors.CodeUnlinkPrimaryMethod, "cannot unlink the registration provider")
	}

	u.ClearExternalID(provider)
	if err := l.users.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("store identity unlink: %w", err)
	}
	return nil
}

// resolveReferrer maps refCode to a referrer id. Unresolvable codes never
// block registration.
func (l *Linker) resolveReferrer(ctx context.Context, refCode string) string {
	if refCode == "" || l.referrals == nil {
		return ""
	}
	referrerID, err := l.referrals.Resolve(ctx, refCode)
	if err != nil {
		log.Printf("referral code %q did not resolve: %v", refCode, err)
		return ""
	}
	return referrerID
}

// notifyLogin tells the user about the login, annotated with the request
// origin when the lookup succeeds. Best-effort.
func (l *Linker) notifyLogin(ctx context.Context, u user.User, provider user.Provider, reqCtx RequestContext) {
	if l.notifier == nil {
		return
	}
	origin := "unknown location"
	if l.geo != nil && reqCtx.IP != "" {
		location, err := l.geo.Resolve(ctx, reqCtx.IP)
		if err == nil {
			origin = location.String()
		}
	}
	text := fmt.Sprintf("New login to your account via %s from %s", provider, origin)
	if reqCtx.IP != "" {
		text += fmt.Sprintf(" (%s)", reqCtx.IP)
	}
	if err := l.notifier.Send(ctx, u.ID, text); err != nil {
		log.Printf("login notification for %s failed: %v", u.ID, err)
	}
}
