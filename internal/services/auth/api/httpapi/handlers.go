// Package httpapi exposes the authentication flows over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"

	apperrors "github.com/driftlyhq/driftly/internal/platform/errors"
	"github.com/driftlyhq/driftly/internal/platform/requestctx"
	"github.com/driftlyhq/driftly/internal/services/auth/account"
	"github.com/driftlyhq/driftly/internal/services/auth/actiontoken"
	"github.com/driftlyhq/driftly/internal/services/auth/provider"
	"github.com/driftlyhq/driftly/internal/services/auth/session"
	"github.com/driftlyhq/driftly/internal/services/auth/token"
	"github.com/driftlyhq/driftly/internal/services/auth/user"
)

// Handler routes the auth HTTP surface.
type Handler struct {
	providers *provider.Registry
	broker    *session.Broker
	linker    *account.Linker
	issuer    *token.Issuer
	actions   *actiontoken.Service
}

// NewHandler wires the HTTP surface over its collaborators.
func NewHandler(providers *provider.Registry, broker *session.Broker, linker *account.Linker, issuer *token.Issuer, actions *actiontoken.Service) *Handler {
	return &Handler{
		providers: providers,
		broker:    broker,
		linker:    linker,
		issuer:    issuer,
		actions:   actions,
	}
}

// RegisterRoutes attaches the auth routes to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth/", h.handleAuthRoutes)
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (h *Handler) handleAuthRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/auth/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	switch parts[0] {
	case "logout":
		h.authenticated(h.handleLogout)(w, r)
		return
	case "logout-all":
		h.authenticated(h.handleLogoutAll)(w, r)
		return
	case "verification":
		h.handleVerificationRoutes(w, r, parts[1:])
		return
	case "password-reset":
		h.handlePasswordResetRoutes(w, r, parts[1:])
		return
	case "email-change":
		h.handleEmailChangeRoutes(w, r, parts[1:])
		return
	}

	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	providerName := user.Provider(parts[0])
	action := parts[1]

	switch action {
	case "url":
		h.handleAuthURL(w, r, providerName)
	case "callback":
		h.handleCallback(w, r, providerName)
	case "authenticate":
		h.handleAuthenticate(w, r, providerName)
	case "link":
		switch r.Method {
		case http.MethodPost:
			h.authenticated(func(w http.ResponseWriter, r *http.Request) {
				h.handleLink(w, r, providerName)
			})(w, r)
		case http.MethodDelete:
			h.authenticated(func(w http.ResponseWriter, r *http.Request) {
				h.handleUnlink(w, r, providerName)
			})(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, r)
	}
}

type authURLResponse struct {
	UUID      string `json:"uuid"`
	AuthURL   string `json:"auth_url"`
	ExpiresIn int64  `json:"expires_in"`
}

func (h *Handler) handleAuthURL(w http.ResponseWriter, r *http.Request, providerName user.Provider) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	adapter, err := h.providers.Lookup(providerName)
	if err != nil {
		writeError(w, err)
		return
	}

	key, err := h.broker.CreatePending(r.Context(), providerName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authURLResponse{
		UUID:      key.Nonce,
		AuthURL:   adapter.AuthURL(key.String()),
		ExpiresIn: int64(h.broker.TTL().Seconds()),
	})
}

// handleCallback receives the provider round-trip result. The state query
// parameter carries the session key; code or token carries the credential.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request, providerName user.Provider) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	adapter, err := h.providers.Lookup(providerName)
	if err != nil {
		writeError(w, err)
		return
	}

	query := r.URL.Query()
	key, err := session.ParseKey(query.Get("state"))
	if err != nil {
		writeError(w, err)
		return
	}
	if key.Provider != providerName {
		writeError(w, session.ErrKeyInvalid)
		return
	}
	credential := query.Get("code")
	if credential == "" {
		credential = query.Get("token")
	}
	if credential == "" {
		writeError(w, apperrors.New(apperrors.CodeProviderCredentialInvalid, "missing code or token"))
		return
	}

	identity, err := adapter.Exchange(r.Context(), credential)
	if err != nil {
		writeError(w, err)
		return
	}
	err = h.broker.PutResult(r.Context(), key, session.Claims{
		ExternalID: identity.ExternalID,
		Email:      identity.Email,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type authenticateRequest struct {
	Hash    string `json:"hash"`
	RefCode string `json:"refCode"`
}

type userResponse struct {
	ID                               string `json:"id,omitempty"`
	Email                            string `json:"email"`
	GoogleID                         string `json:"googleId,omitempty"`
	GitHubID                         string `json:"githubId,omitempty"`
	IsActive                         bool   `json:"isActive"`
	IsTwoFactorAuthenticationEnabled bool   `json:"isTwoFactorAuthenticationEnabled"`
	TrialEndDate                     string `json:"trialEndDate,omitempty"`
}

type authenticateResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         userResponse `json:"user"`
	ProjectIDs   []string     `json:"projectIds,omitempty"`
}

func (h *Handler) handleAuthenticate(w http.ResponseWriter, r *http.Request, providerName user.Provider) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := h.providers.Lookup(providerName); err != nil {
		writeError(w, err)
		return
	}
	var req authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Hash == "" {
		writeError(w, session.ErrKeyInvalid)
		return
	}

	key := session.Key{Provider: providerName, Nonce: req.Hash}
	result, err := h.linker.Authenticate(r.Context(), key, requestContextFrom(r), req.RefCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authenticateResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         toUserResponse(result.User),
		ProjectIDs:   result.ProjectIDs,
	})
}

type linkRequest struct {
	Hash string `json:"hash"`
}

func (h *Handler) handleLink(w http.ResponseWriter, r *http.Request, providerName user.Provider) {
	if _, err := h.providers.Lookup(providerName); err != nil {
		writeError(w, err)
		return
	}
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Hash == "" {
		writeError(w, session.ErrKeyInvalid)
		return
	}

	key := session.Key{Provider: providerName, Nonce: req.Hash}
	if err := h.linker.Link(r.Context(), requestctx.UserIDFromContext(r.Context()), key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnlink(w http.ResponseWriter, r *http.Request, providerName user.Provider) {
	if _, err := h.providers.Lookup(providerName); err != nil {
		writeError(w, err)
		return
	}
	if err := h.linker.Unlink(r.Context(), requestctx.UserIDFromContext(r.Context()), providerName); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, apperrors.New(apperrors.CodeRefreshTokenInvalid, "refresh token is required"))
		return
	}
	if err := h.issuer.Revoke(r.Context(), requestctx.UserIDFromContext(r.Context()), req.RefreshToken); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.issuer.RevokeAll(r.Context(), requestctx.UserIDFromContext(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVerificationRoutes(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodPost || len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	switch parts[0] {
	case "request":
		h.authenticated(func(w http.ResponseWriter, r *http.Request) {
			userID := requestctx.UserIDFromContext(r.Context())
			if err := h.actions.RequestEmailVerification(r.Context(), userID); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})(w, r)
	case "confirm":
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			writeError(w, actiontoken.ErrNotFound)
			return
		}
		if err := h.actions.ConfirmEmailVerification(r.Context(), req.Token); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handlePasswordResetRoutes(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodPost || len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	switch parts[0] {
	case "request":
		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.New(apperrors.CodeUserEmailInvalid, "email is invalid"))
			return
		}
		if err := h.actions.RequestPasswordReset(r.Context(), req.Email); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "confirm":
		var req struct {
			Token    string `json:"token"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			writeError(w, actiontoken.ErrNotFound)
			return
		}
		if err := h.actions.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleEmailChangeRoutes(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodPost || len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	switch parts[0] {
	case "request":
		h.authenticated(func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				NewEmail string `json:"newEmail"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, apperrors.New(apperrors.CodeUserEmailInvalid, "email is invalid"))
				return
			}
			userID := requestctx.UserIDFromContext(r.Context())
			if err := h.actions.RequestEmailChange(r.Context(), userID, req.NewEmail); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})(w, r)
	case "confirm":
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			writeError(w, actiontoken.ErrNotFound)
			return
		}
		if err := h.actions.ConfirmEmailChange(r.Context(), req.Token); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

// authenticated validates the bearer access token and stores the subject in
// the request context.
func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || bearer == "" {
			writeError(w, apperrors.New(apperrors.CodeAccessTokenInvalid, "missing bearer token"))
			return
		}
		claims, err := h.issuer.ValidateAccess(bearer)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(requestctx.WithUserID(r.Context(), claims.Subject)))
	}
}

func requestContextFrom(r *http.Request) account.RequestContext {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		ip, _, _ = strings.Cut(ip, ",")
		ip = strings.TrimSpace(ip)
	} else {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	return account.RequestContext{IP: ip, UserAgent: r.UserAgent()}
}

func toUserResponse(u user.User) userResponse {
	resp := userResponse{
		ID:                               u.ID,
		Email:                            u.Email,
		GoogleID:                         u.GoogleID,
		GitHubID:                         u.GitHubID,
		IsActive:                         u.IsActive,
		IsTwoFactorAuthenticationEnabled: u.IsTwoFactorAuthenticationEnabled,
	}
	if !u.TrialEndDate.IsZero() {
		resp.TrialEndDate = u.TrialEndDate.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

// writeError maps a domain error to its HTTP status. Errors without a code
// never leak their message.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: errorBody{Code: string(apperrors.CodeUnknown), Message: "internal error"},
		})
		return
	}
	writeJSON(w, apperrors.HTTPStatus(appErr), errorResponse{
		Error: errorBody{Code: string(appErr.Code), Message: appErr.Message},
	})
}
