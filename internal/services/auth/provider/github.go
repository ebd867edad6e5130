package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/driftlyhq/driftly/internal/services/auth/user"
)

const githubAPIBaseURL = "https://api.github.com"

// GitHub implements the authorization-code GitHub adapter.
//
// GitHub profiles may hide the account email; when the profile omits it the
// adapter falls back to the account's email list and requires an entry
// flagged primary.
type GitHub struct {
	config     oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

// GitHubConfig configures the GitHub adapter.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	HTTPClient   *http.Client
}

// NewGitHub builds a GitHub adapter.
func NewGitHub(cfg GitHubConfig) *GitHub {
	return &GitHub{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"user:email"},
		},
		apiBaseURL: githubAPIBaseURL,
		httpClient: ensureClient(cfg.HTTPClient),
	}
}

// Name returns the provider tag.
func (g *GitHub) Name() user.Provider {
	return user.ProviderGitHub
}

// AuthURL builds the authorization-code URL bound to state.
func (g *GitHub) AuthURL(state string) string {
	return g.config.AuthCodeURL(state)
}

// Exchange trades the authorization code for an access token, then resolves
// the account profile and email.
func (g *GitHub) Exchange(ctx context.Context, code string) (Identity, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return Identity{}, invalidCredential(g.Name())
		}
		return Identity{}, unavailable(g.Name(), err)
	}

	var profile struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	}
	if err := g.getJSON(ctx, "/user", token.AccessToken, &profile); err != nil {
		return Identity{}, err
	}
	if profile.ID == 0 {
		return Identity{}, invalidCredential(g.Name())
	}

	email := profile.Email
	if email == "" {
		email, err = g.primaryEmail(ctx, token.AccessToken)
		if err != nil {
			return Identity{}, err
		}
	}
	return Identity{ExternalID: strconv.FormatInt(profile.ID, 10), Email: email}, nil
}

// primaryEmail reads the account's email list and selects the entry flagged
// primary. An account without a primary email cannot authenticate.
func (g *GitHub) primaryEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email   string `json:"email"`
		Primary bool   `json:"primary"`
	}
	if err := g.getJSON(ctx, "/user/emails", accessToken, &emails); err != nil {
		return "", err
	}
	for _, entry := range emails {
		if entry.Primary && entry.Email != "" {
			return entry.Email, nil
		}
	}
	return "", invalidCredential(g.Name())
}

func (g *GitHub) getJSON(ctx context.Context, path, accessToken string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBaseURL+path, nil)
	if err != nil {
		return unavailable(g.Name(), err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return unavailable(g.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return invalidCredential(g.Name())
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return invalidCredential(g.Name())
	}
	return nil
}
