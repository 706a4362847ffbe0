package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/embedding"
)

type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByID(ctx context.Context, id string) (*domain.APIKey, error)
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	List(ctx context.Context, identity string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type ProviderKeyRepository interface {
	GetProviderKey(ctx context.Context, identity, provider string) (*domain.ProviderKey, error)
	Set(ctx context.Context, key *domain.ProviderKey) error
	Delete(ctx context.Context, identity, provider string) error
}

// AuthService manages API keys and the provider credentials stored per identity.
type AuthService struct {
	keyRepo      APIKeyRepository
	providerKeys ProviderKeyRepository
	uuidGen      UUIDGenerator
}

func NewAuthService(keyRepo APIKeyRepository, providerKeys ProviderKeyRepository, uuidGen UUIDGenerator) *AuthService {
	if uuidGen == nil {
		uuidGen = &DefaultUUIDGenerator{}
	}
	return &AuthService{
		keyRepo:      keyRepo,
		providerKeys: providerKeys,
		uuidGen:      uuidGen,
	}
}

// CreateAPIKey issues a new token for identity. Only the hash is stored.
func (s *AuthService) CreateAPIKey(ctx context.Context, identity, name string) (string, error) {
	if identity == "" {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "identity is required")
	}
	if name == "" {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "API key name is required")
	}

	token, err := generateAPIToken()
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}

	if err := s.store(ctx, identity, name, token); err != nil {
		return "", err
	}
	return token, nil
}

// CreateAPIKeyWithToken registers a caller-chosen token, used for bootstrap keys.
func (s *AuthService) CreateAPIKeyWithToken(ctx context.Context, identity, name, token string) error {
	if identity == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "identity is required")
	}
	if name == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key name is required")
	}
	if !domain.IsValidAPIToken(token) {
		return domain.NewDomainError(domain.ErrCodeValidation, "invalid API key format (expected dp_<64 hex chars>)")
	}

	return s.store(ctx, identity, name, token)
}

func (s *AuthService) store(ctx context.Context, identity, name, token string) error {
	key := domain.NewAPIKey(s.uuidGen.NewString(), identity, name, hashToken(token), time.Now().UTC(), nil)
	if err := domain.ValidateAPIKey(key); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid API key", err)
	}
	return s.keyRepo.Create(ctx, key)
}

// ValidateAPIKey returns the identity the token belongs to.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	if !domain.IsValidAPIToken(token) {
		return "", domain.ErrInvalidAPIKey
	}

	key, err := s.keyRepo.GetByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return "", domain.ErrInvalidAPIKey
		}
		return "", err
	}

	if key.IsRevoked() {
		return "", domain.ErrAPIKeyRevoked
	}

	return key.Identity, nil
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key ID is required")
	}

	return s.keyRepo.Revoke(ctx, keyID)
}

// ListAPIKeys lists keys for identity, or for everyone when identity is empty.
func (s *AuthService) ListAPIKeys(ctx context.Context, identity string) ([]*domain.APIKey, error) {
	return s.keyRepo.List(ctx, identity)
}

// SetProviderKey stores the identity-scoped credential for a remote provider.
func (s *AuthService) SetProviderKey(ctx context.Context, identity, provider, apiKey string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if identity == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "identity is required")
	}
	if !embedding.IsRemoteProvider(provider) {
		return domain.NewDomainError(domain.ErrCodeValidation, fmt.Sprintf("unknown embedding provider %q", provider))
	}
	if strings.TrimSpace(apiKey) == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "provider API key is required")
	}

	return s.providerKeys.Set(ctx, &domain.ProviderKey{
		Identity:  identity,
		Provider:  provider,
		APIKey:    strings.TrimSpace(apiKey),
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *AuthService) DeleteProviderKey(ctx context.Context, identity, provider string) error {
	if identity == "" || provider == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "identity and provider are required")
	}
	return s.providerKeys.Delete(ctx, identity, strings.ToLower(provider))
}

func generateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return domain.APITokenPrefix + hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
