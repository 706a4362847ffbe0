package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/docpipe/internal/domain"
)

// ProviderKeyStore looks up identity-scoped provider credentials. It returns
// domain.ErrProviderKeyNotFound when none is stored.
type ProviderKeyStore interface {
	GetProviderKey(ctx context.Context, identity, provider string) (*domain.ProviderKey, error)
}

// KeySource records which tier supplied a credential.
type KeySource string

const (
	KeySourceRequest  KeySource = "request"
	KeySourceIdentity KeySource = "identity"
	KeySourceConfig   KeySource = "config"
)

// KeyResolver picks the remote credential: the request's explicit key, then
// the identity's stored key, then the process-wide fallback.
type KeyResolver struct {
	store    ProviderKeyStore
	fallback map[string]string
}

// NewKeyResolver creates a resolver. store may be nil when identity-scoped
// keys are not available.
func NewKeyResolver(store ProviderKeyStore, fallback map[string]string) *KeyResolver {
	if fallback == nil {
		fallback = map[string]string{}
	}
	return &KeyResolver{store: store, fallback: fallback}
}

// Resolve returns the key for provider or a ProviderAuthError if no tier has one.
func (r *KeyResolver) Resolve(ctx context.Context, provider, explicit, identity string) (string, KeySource, error) {
	if explicit != "" {
		return explicit, KeySourceRequest, nil
	}

	if r.store != nil && identity != "" {
		pk, err := r.store.GetProviderKey(ctx, identity, provider)
		switch {
		case err == nil && pk.APIKey != "":
			return pk.APIKey, KeySourceIdentity, nil
		case err != nil && !errors.Is(err, domain.ErrProviderKeyNotFound):
			return "", "", domain.NewProviderAuthError("failed to look up provider key", err)
		}
	}

	if key := r.fallback[provider]; key != "" {
		return key, KeySourceConfig, nil
	}

	return "", "", domain.NewProviderAuthError(fmt.Sprintf("no api key configured for provider %q", provider), nil)
}
