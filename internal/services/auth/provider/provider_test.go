package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	apperrors "github.com/driftlyhq/driftly/internal/platform/errors"
	"github.com/driftlyhq/driftly/internal/services/auth/user"
)

func TestRegistryLookup(t *testing.T) {
	google := NewGoogle(GoogleConfig{ClientID: "gid"})
	registry := NewRegistry(google)

	adapter, err := registry.Lookup(user.ProviderGoogle)
	if err != nil {
		t.Fatalf("lookup google: %v", err)
	}
	if adapter.Name() != user.ProviderGoogle {
		t.Fatalf("expected google adapter, got %q", adapter.Name())
	}

	if _, err := registry.Lookup(user.Provider("gitlab")); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestGoogleAuthURL(t *testing.T) {
	google := NewGoogle(GoogleConfig{
		ClientID:    "client-1",
		RedirectURI: "https://app.example.com/callback",
	})

	authURL := google.AuthURL("state-abc")
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	query := parsed.Query()
	if got := query.Get("response_type"); got != "token" {
		t.Fatalf("response_type = %q, want token", got)
	}
	if got := query.Get("scope"); got != "email" {
		t.Fatalf("scope = %q, want email", got)
	}
	if got := query.Get("state"); got != "state-abc" {
		t.Fatalf("state = %q, want state-abc", got)
	}
	if got := query.Get("client_id"); got != "client-1" {
		t.Fatalf("client_id = %q, want client-1", got)
	}
}

func TestGoogleExchange(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "good-token" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"sub-1","email":"alice@example.com","aud":"client-1"}`))
	}))
	defer ts.Close()

	google := NewGoogle(GoogleConfig{ClientID: "client-1", HTTPClient: ts.Client()})
	google.tokenInfoURL = ts.URL

	identity, err := google.Exchange(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if identity.ExternalID != "sub-1" || identity.Email != "alice@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}

	if _, err := google.Exchange(context.Background(), "bad-token"); !errors.Is(err, invalidCredential(user.ProviderGoogle)) {
		t.Fatalf("expected invalid credential error, got %v", err)
	}
}

func TestGoogleExchangeRejectsForeignAudience(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"sub-1","email":"alice@example.com","aud":"someone-else"}`))
	}))
	defer ts.Close()

	google := NewGoogle(GoogleConfig{ClientID: "client-1", HTTPClient: ts.Client()})
	google.tokenInfoURL = ts.URL

	_, err := google.Exchange(context.Background(), "token")
	if apperrors.CodeOf(err) != apperrors.CodeProviderCredentialInvalid {
		t.Fatalf("expected credential rejection, got %v", err)
	}
}

func TestGoogleExchangeTransportFailure(t *testing.T) {
	google := NewGoogle(GoogleConfig{ClientID: "client-1"})
	google.tokenInfoURL = "http://127.0.0.1:1"

	_, err := google.Exchange(context.Background(), "token")
	if apperrors.CodeOf(err) != apperrors.CodeProviderUnavailable {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

// newGitHubFixture wires a GitHub adapter against a fake provider serving the
// token, profile, and email endpoints.
func newGitHubFixture(t *testing.T, profileJSON, emailsJSON string) *GitHub {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.FormValue("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad_verification_code"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gh-token","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(profileJSON))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(emailsJSON))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	gh := NewGitHub(GitHubConfig{ClientID: "cid", ClientSecret: "secret", HTTPClient: ts.Client()})
	gh.apiBaseURL = ts.URL
	gh.config.Endpoint = oauth2.Endpoint{
		AuthURL:  ts.URL + "/login/oauth/authorize",
		TokenURL: ts.URL + "/login/oauth/access_token",
	}
	return gh
}

func TestGitHubAuthURL(t *testing.T) {
	gh := NewGitHub(GitHubConfig{ClientID: "cid", RedirectURI: "https://app.example.com/cb"})
	authURL := gh.AuthURL("state-1")
	if !strings.Contains(authURL, "state=state-1") {
		t.Fatalf("expected state in auth url, got %q", authURL)
	}
	if !strings.Contains(authURL, "scope=user%3Aemail") {
		t.Fatalf("expected user:email scope in auth url, got %q", authURL)
	}
}

func TestGitHubExchangeWithProfileEmail(t *testing.T) {
	gh := newGitHubFixture(t, `{"id":42,"email":"octo@example.com"}`, `[]`)

	identity, err := gh.Exchange(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if identity.ExternalID != "42" {
		t.Fatalf("external id = %q, want 42", identity.ExternalID)
	}
	if identity.Email != "octo@example.com" {
		t.Fatalf("email = %q, want octo@example.com", identity.Email)
	}
}

func TestGitHubExchangeFallsBackToPrimaryEmail(t *testing.T) {
	emails := `[{"email":"secondary@example.com","primary":false},{"email":"primary@example.com","primary":true}]`
	gh := newGitHubFixture(t, `{"id":42,"email":""}`, emails)

	identity, err := gh.Exchange(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if identity.Email != "primary@example.com" {
		t.Fatalf("email = %q, want primary@example.com", identity.Email)
	}
}

func TestGitHubExchangeFailsWithoutPrimaryEmail(t *testing.T) {
	emails := `[{"email":"a@example.com","primary":false},{"email":"b@example.com","primary":false}]`
	gh := newGitHubFixture(t, `{"id":42,"email":""}`, emails)

	_, err := gh.Exchange(context.Background(), "good-code")
	if apperrors.CodeOf(err) != apperrors.CodeProviderCredentialInvalid {
		t.Fatalf("expected credential rejection, got %v", err)
	}
}

func TestGitHubExchangeRejectsBadCode(t *testing.T) {
	gh := newGitHubFixture(t, `{"id":42,"email":"octo@example.com"}`, `[]`)

	_, err := gh.Exchange(context.Background(), "bad-code")
	if apperrors.CodeOf(err) != apperrors.CodeProviderCredentialInvalid {
		t.Fatalf("expected credential rejection, got %v", err)
	}
}
