// Package session brokers the ephemeral hand-off between the browser that
// performs the provider redirect and the tab that finishes authentication.
//
// The two execution contexts never share memory; the unguessable state key is
// their only correlation. A slot is created empty, written once with the
// provider claims, and consumed exactly once.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/driftlyhq/driftly/internal/platform/errors"
	"github.com/driftlyhq/driftly/internal/services/auth/user"
)

// DefaultTTL bounds how long an unconsumed slot stays readable.
const DefaultTTL = 5 * time.Minute

var (
	// ErrKeyInvalid indicates a malformed session key.
	ErrKeyInvalid = apperrors.New(apperrors.CodeSessionKeyInvalid, "malformed session key")
	// ErrNotFound indicates an absent, expired, or already consumed slot.
	ErrNotFound = apperrors.New(apperrors.CodeSessionNotFound, "no session for key")
	// ErrCorrupted indicates a slot whose payload cannot be deserialized.
	ErrCorrupted = apperrors.New(apperrors.CodeSessionCorrupted, "session payload is corrupted")
)

// Key is the typed form of the composite `provider:nonce` slot key.
type Key struct {
	Provider user.Provider
	Nonce    string
}

// String serializes the key back into its wire form.
func (k Key) String() string {
	return string(k.Provider) + ":" + k.Nonce
}

// ParseKey parses a raw `provider:nonce` key at the boundary.
func ParseKey(raw string) (Key, error) {
	provider, nonce, ok := strings.Cut(raw, ":")
	if !ok || provider == "" || nonce == "" {
		return Key{}, ErrKeyInvalid
	}
	if strings.Contains(nonce, ":") {
		return Key{}, ErrKeyInvalid
	}
	return Key{Provider: user.Provider(provider), Nonce: nonce}, nil
}

// Claims are the normalized identity claims a provider exchange produced.
type Claims struct {
	ExternalID string `json:"externalId"`
	Email      string `json:"email"`
}

// Store is the ephemeral key-value collaborator backing the broker.
//
// TakeDelete must be atomic: when two consumers race on the same key, exactly
// one observes the value and the other observes absence.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	TakeDelete(ctx context.Context, key string) ([]byte, bool, error)
}

// Broker orchestrates the pending-session lifecycle.
type Broker struct {
	store    Store
	ttl      time.Duration
	newNonce func() (string, error)
}

// NewBroker builds a broker over the given ephemeral store.
func NewBroker(store Store, ttl time.Duration) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Broker{store: store, ttl: ttl, newNonce: newNonce}
}

// TTL reports the slot lifetime, for callers surfacing expires_in.
func (b *Broker) TTL() time.Duration {
	return b.ttl
}

// CreatePending writes an empty slot under a fresh unguessable key.
func (b *Broker) CreatePending(ctx context.Context, provider user.Provider) (Key, error) {
	nonce, err := b.newNonce()
	if err != nil {
		return Key{}, fmt.Errorf("generate session nonce: %w", err)
	}
	key := Key{Provider: provider, Nonce: nonce}
	if err := b.store.Put(ctx, key.String(), nil, b.ttl); err != nil {
		return Key{}, fmt.Errorf("create pending session: %w", err)
	}
	return key, nil
}

// PutResult overwrites the slot with serialized claims and refreshes its TTL.
func (b *Broker) PutResult(ctx context.Context, key Key, claims Claims) error {
	payload, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("serialize session claims: %w", err)
	}
	if err := b.store.Put(ctx, key.String(), payload, b.ttl); err != nil {
		return fmt.Errorf("write session result: %w", err)
	}
	return nil
}

// Consume atomically reads and deletes the slot.
//
// A slot that was never written (empty value) reads the same as an absent
// one, so a caller cannot authenticate before the provider round-trip
// completed.
func (b *Broker) Consume(ctx context.Context, key Key) (Claims, error) {
	payload, ok, err := b.store.TakeDelete(ctx, key.String())
	if err != nil {
		return Claims{}, fmt.Errorf("consume session: %w", err)
	}
	if !ok || len(payload) == 0 {
		return Claims{}, ErrNotFound
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrCorrupted
	}
	if claims.ExternalID == "" {
		return Claims{}, ErrCorrupted
	}
	return claims, nil
}

// newNonce returns an unguessable hex nonce.
func newNonce() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
