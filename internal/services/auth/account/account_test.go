package account

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/driftlyhq/driftly/internal/platform/errors"
	"github.com/driftlyhq/driftly/internal/services/auth/session"
	"github.com/driftlyhq/driftly/internal/services/auth/storage/memory"
	"github.com/driftlyhq/driftly/internal/services/auth/token"
	"github.com/driftlyhq/driftly/internal/services/auth/user"
)

type fakeProjects struct {
	ids map[string][]string
	err error
}

func (f *fakeProjects) SharedProjectIDs(ctx context.Context, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ids[userID], nil
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Send(ctx context.Context, chatID, text string) error {
	f.sent = append(f.sent, chatID+": "+text)
	return nil
}

type fixture struct {
	linker   *Linker
	store    *memory.Store
	broker   *session.Broker
	issuer   *token.Issuer
	projects *fakeProjects
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	broker := session.NewBroker(session.NewMemoryStore(), session.DefaultTTL)
	issuer, err := token.NewIssuer([]byte("test-signing-key"), store)
	if err != nil {
		t.Fatalf("token.NewIssuer() error = %v", err)
	}
	projects := &fakeProjects{ids: map[string][]string{}}
	notifier := &fakeNotifier{}
	linker, err := NewLinker(store, broker, issuer, projects, StoreReferrals{Users: store}, notifier, nil)
	if err != nil {
		t.Fatalf("NewLinker() error = %v", err)
	}
	return &fixture{linker: linker, store: store, broker: broker, issuer: issuer, projects: projects, notifier: notifier}
}

// completedRoundTrip creates a pending slot and writes provider claims into
// it, the way a finished callback would.
func (fx *fixture) completedRoundTrip(t *testing.T, provider user.Provider, claims session.Claims) session.Key {
	t.Helper()
	ctx := context.Background()
	key, err := fx.broker.CreatePending(ctx, provider)
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}
	if err := fx.broker.PutResult(ctx, key, claims); err != nil {
		t.Fatalf("PutResult() error = %v", err)
	}
	return key
}

func seedUser(t *testing.T, store *memory.Store, u user.User) {
	t.Helper()
	if err := store.PutUser(context.Background(), u); err != nil {
		t.Fatalf("PutUser() error = %v", err)
	}
}

func TestAuthenticateProvisionsNewUser(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	key := fx.completedRoundTrip(t, user.ProviderGoogle, session.Claims{ExternalID: "g-1", Email: "new@example.com"})

	result, err := fx.linker.Authenticate(ctx, key, RequestContext{}, "")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if result.User.Email != "new@example.com" {
		t.Fatalf("User.Email = %q, want %q", result.User.Email, "new@example.com")
	}
	if result.User.GoogleID != "g-1" {
		t.Fatalf("User.GoogleID = %q, want %q", result.User.GoogleID, "g-1")
	}
	if !result.User.RegisteredWithGoogle {
		t.Fatal("User.RegisteredWithGoogle = false, want true")
	}
	if !result.User.IsActive {
		t.Fatal("User.IsActive = false, want true: the provider proved the email")
	}
	if result.AccessToken == "" {
		t.Fatal("AccessToken is empty")
	}
	if result.RefreshToken == token.RefreshNotAvailable {
		t.Fatal("RefreshToken = RefreshNotAvailable, want a full session")
	}

	stored, err := fx.store.GetUserByExternalID(ctx, user.ProviderGoogle, "g-1")
	if err != nil {
		t.Fatalf("GetUserByExternalID() error = %v", err)
	}
	if stored.TrialEndDate.IsZero() {
		t.Fatal("TrialEndDate is zero, want trial window set")
	}
}

func TestAuthenticateResolvesReferrer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seedUser(t, fx.store, user.User{ID: "referrer-1", Email: "ref@example.com"})
	key := fx.completedRoundTrip(t, user.ProviderGoogle, session.Claims{ExternalID: "g-1", Email: "new@example.com"})

	result, err := fx.linker.Authenticate(ctx, key, RequestContext{}, "referrer-1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if result.User.ReferrerID != "referrer-1" {
		t.Fatalf("User.ReferrerID = %q, want %q", result.User.ReferrerID, "referrer-1")
	}
}

func TestAuthenticateBadReferralCodeNeverBlocks(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	key := fx.completedRoundTrip(t, user.ProviderGoogle, session.Claims{ExternalID: "g-1", Email: "new@example.com"})

	result, err := fx.linker.Authenticate(ctx, key, RequestContext{}, "no-such-code")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if result.User.ReferrerID != "" {
		t.Fatalf("User.ReferrerID = %q, want empty", result.User.ReferrerID)
	}
}

func TestAuthenticateExistingUser(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seedUser(t, fx.store, user.User{ID: "u1", Email: "u1@example.com", GoogleID: "g-1", RegisteredWithGoogle: true, IsActive: true})
	fx.projects.ids["u1"] = []string{"p1", "p2"}
	key := fx.completedRoundTrip(t, user.ProviderGoogle, session.Claims{ExternalID: "g-1", Email: "u1@example.com"})

	result, err := fx.linker.Authenticate(ctx, key, RequestContext{IP: "203.0.113.9"}, "")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if result.User.ID != "u1" {
		t.Fatalf("User.ID = %q, want %q", result.User.ID, "u1")
	}
	if result.TwoFactorPending {
		t.Fatal("TwoFactorPending = true, want false")
	}
	if len(result.ProjectIDs) != 2 {
		t.Fatalf("ProjectIDs = %v, want 2 entries", result.ProjectIDs)
	}
	if len(fx.notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(fx.notifier.sent))
	}
}

func TestAuthenticateTwoFactorReducedProjection(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seedUser(t, fx.store, user.User{
		ID: "u1", Email: "u1@example.com", GoogleID: "g-1",
		RegisteredWithGoogle: true, IsTwoFactorAuthenticationEnabled: true,
	})
	fx.projects.ids["u1"] = []string{"p1"}
	key := fx.completedRoundTrip(t, user.ProviderGoogle, session.Claims{ExternalID: "g-1", Email: "u1@example.com"})

	result, err := fx.linker.Authenticate(ctx, key, RequestContext{}, "")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if !result.TwoFactorPending {
		t.Fatal("TwoFactorPending = false, want true")
	}
	if result.RefreshToken != token.RefreshNotAvailable {
		t.Fatalf("RefreshToken = %q, want RefreshNotAvailable", result.RefreshToken)
	}
	if result.User.ID != "" {
		t.Fatalf("User.ID = %q, want reduced projection without id", result.User.ID)
	}
	if result.User.Email != "u1@example.com" {
		t.Fatalf("User.Email = %q, want %q", result.User.Email, "u1@example.com")
	}
	if len(result.ProjectIDs) != 0 {
		t.Fatalf("ProjectIDs = %v, want none before second factor", result.ProjectIDs)
	}
}

func TestLoginIdentityMismatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// The external-id lookup normally guarantees the match; this exercises
	// the defensive check against diverged durable state.
	diverged := user.User{ID: "u1", GoogleID: "g-other", RegisteredWithGoogle: true}
	_, err := fx.linker.login(ctx, diverged, user.ProviderGoogle, session.Claims{ExternalID: "g-1"}, RequestContext{})
	if apperrors.CodeOf(err) != apperrors.CodeIdentityMismatch {
		t.Fatalf("login() error = %v, want code %v", err, apperrors.CodeIdentityMismatch)
	}
}

func TestAuthenticateConsumedSessionFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	key := fx.completedRoundTrip(t, user.ProviderGoogle, session.Claims{ExternalID: "g-1", Email: "new@example.com"})

	if _, err := fx.linker.Authenticate(ctx, key, RequestContext{}, ""); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	_, err := fx.linker.Authenticate(ctx, key, RequestContext{}, "")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("second Authenticate() error = %v, want %v", err, session.ErrNotFound)
	}
}

func TestAuthenticateUnwrittenSlotFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	key, err := fx.broker.CreatePending(ctx, user.ProviderGoogle)
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}
	_, err = fx.linker.Authenticate(ctx, key, RequestContext{}, "")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Authenticate() error = %v, want %v", err, session.ErrNotFound)
	}
}

func TestLink(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seedUser(t, fx.store, user.User{ID: "u1", Email: "u1@example.com", GoogleID: "g-1", RegisteredWithGoogle: true})
	key := fx.completedRoundTrip(t, user.ProviderGitHub, session.Claims{ExternalID: "gh-9", Email: "u1@example.com"})

	if err := fx.linker.Link(ctx, "u1", key); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	got, err := fx.store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.GitHubID != "gh-9" {
		t.Fatalf("GitHubID = %q, want %q", got.GitHubID, "gh-9")
	}
}

func TestLinkConflictLeavesTargetUnchanged(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seedUser(t, fx.store, user.User{ID: "owner", Email: "owner@example.com", GitHubID: "gh-9", RegisteredWithGithub: true})
	seedUser(t, fx.store, user.User{ID: "u1", Email: "u1@example.com", GoogleID: "g-1", RegisteredWithGoogle: true})
	key := fx.completedRoundTrip(t, user.ProviderGitHub, session.Claims{ExternalID: "gh-9", Email: "u1@example.com"})

	err := fx.linker.Link(ctx, "u1", key)
	if apperrors.CodeOf(err) != apperrors.CodeIdentityAlreadyLinked {
		t.Fatalf("Link() error = %v, want code %v", err, apperrors.CodeIdentityAlreadyLinked)
	}

	got, err := fx.store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.GitHubID != "" {
		t.Fatalf("GitHubID = %q, want unchanged empty value", got.GitHubID)
	}
}

func TestLinkSameOwnerIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seedUser(t, fx.store, user.User{ID: "u1", Email: "u1@example.com", GitHubID: "gh-9", RegisteredWithGithub: true})
	key := fx.completedRoundTrip(t, user.ProviderGitHub, session.Claims{ExternalID: "gh-9", Email: "u1@example.com"})

	if err := fx.linker.Link(ctx, "u1", key); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
}

func TestUnlink(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seedUser(t, fx.store, user.User{
		ID: "u1", Email: "u1@example.com",
		GoogleID: "g-1", RegisteredWithGoogle: true, GitHubID: "gh-9",
	})

	if err := fx.linker.Unlink(ctx, "u1", user.ProviderGitHub); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}

	got, err := fx.store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.GitHubID != "" {
		t.Fatalf("GitHubID = %q, want cleared", got.GitHubID)
	}
	if got.GoogleID != "g-1" {
		t.Fatalf("GoogleID = %q, want untouched", got.GoogleID)
	}
}

func TestUnlinkRegistrationProviderRefused(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seedUser(t, fx.store, user.User{ID: "u1", Email: "u1@example.com", GoogleID: "g-1", RegisteredWithGoogle: true})

	err := fx.linker.Unlink(ctx, "u1", user.ProviderGoogle)
	if apperrors.CodeOf(err) != apperrors.CodeUnlinkPrimaryMethod {
		t.Fatalf("Unlink() error = %v, want code %v", err, apperrors.CodeUnlinkPrimaryMethod)
	}

	got, err := fx.store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.GoogleID != "g-1" {
		t.Fatalf("GoogleID = %q, want untouched", got.GoogleID)
	}
}
