// Package provider normalizes external identity-provider protocols into a
// single adapter contract.
//
// Each provider differs in how the authorization URL is built and how a
// client-supplied credential becomes identity claims; everything downstream
// of the adapter sees only {externalId, email}.
package provider

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/driftlyhq/driftly/internal/platform/errors"
	"github.com/driftlyhq/driftly/internal/services/auth/user"
)

// ErrUnknownProvider indicates a provider tag with no registered adapter.
var ErrUnknownProvider = apperrors.New(apperrors.CodeProviderUnknown, "unknown provider")

// defaultTimeout bounds provider calls when the caller context carries no
// deadline of its own.
const defaultTimeout = 10 * time.Second

// Identity is the provider-neutral result of a credential exchange.
type Identity struct {
	ExternalID string
	Email      string
}

// Adapter is the common provider contract.
type Adapter interface {
	// Name returns the provider tag used in routes and session keys.
	Name() user.Provider
	// AuthURL builds the provider authorization URL bound to state.
	AuthURL(state string) string
	// Exchange turns a client-forwarded credential (an access token or an
	// authorization code, depending on the provider flow) into identity
	// claims.
	Exchange(ctx context.Context, credential string) (Identity, error)
}

// Registry holds the configured adapters keyed by provider tag.
type Registry struct {
	adapters map[user.Provider]Adapter
}

// NewRegistry builds a registry from the configured adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	byName := make(map[user.Provider]Adapter, len(adapters))
	for _, adapter := range adapters {
		byName[adapter.Name()] = adapter
	}
	return &Registry{adapters: byName}
}

// Lookup resolves a provider tag to its adapter.
func (r *Registry) Lookup(name user.Provider) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return adapter, nil
}

// invalidCredential builds the opaque error surfaced for provider rejections
// and unparseable responses; upstream bodies are never included.
func invalidCredential(provider user.Provider) error {
	return apperrors.WithMetadata(
		apperrors.CodeProviderCredentialInvalid,
		"invalid token/code supplied",
		map[string]string{"provider": string(provider)},
	)
}

// unavailable wraps a transport failure reaching the provider. Callers treat
// it as retryable: the flow restarts from "get auth URL".
func unavailable(provider user.Provider, cause error) error {
	return &apperrors.Error{
		Code:     apperrors.CodeProviderUnavailable,
		Message:  "provider request failed",
		Metadata: map[string]string{"provider": string(provider)},
		Cause:    cause,
	}
}

// withDeadline guarantees outbound provider calls are bounded even when the
// caller supplied no deadline.
func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

func ensureClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}
