package domain

import (
	"strings"
	"time"
)

// APITokenPrefix starts every issued API token; 64 hex digits follow it.
const APITokenPrefix = "dp_"

const apiTokenHexLen = 64

// IsValidAPIToken reports whether token has the shape of an issued token.
// It says nothing about whether the token is known or revoked.
func IsValidAPIToken(token string) bool {
	hexPart, ok := strings.CutPrefix(token, APITokenPrefix)
	if !ok || len(hexPart) != apiTokenHexLen {
		return false
	}
	for _, c := range hexPart {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// APIKey authenticates a caller. Identity is the opaque caller name that
// identity-scoped provider keys are stored under. Only the SHA-256 of the
// token is kept.
type APIKey struct {
	ID        string
	Identity  string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	RevokedAt *time.Time
}

func NewAPIKey(id, identity, name, keyHash string, createdAt time.Time, revokedAt *time.Time) *APIKey {
	return &APIKey{
		ID:        id,
		Identity:  identity,
		Name:      name,
		KeyHash:   keyHash,
		CreatedAt: createdAt,
		RevokedAt: revokedAt,
	}
}

func (a *APIKey) IsRevoked() bool {
	return a.RevokedAt != nil
}

// ValidateAPIKey checks that a key is complete enough to store. All missing
// fields are named in one VALIDATION_ERROR.
func ValidateAPIKey(a *APIKey) error {
	if a == nil {
		return NewDomainError(ErrCodeValidation, "api key is nil")
	}

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"id", a.ID},
		{"identity", a.Identity},
		{"name", a.Name},
		{"key hash", a.KeyHash},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return NewDomainError(ErrCodeValidation, "api key is missing "+strings.Join(missing, ", "))
	}
	if strings.ContainsAny(a.Identity, " \t\r\n") {
		return NewDomainError(ErrCodeValidation, "api key identity must not contain whitespace")
	}
	return nil
}

// ProviderKey is an embedding-provider credential scoped to one identity.
type ProviderKey struct {
	Identity  string
	Provider  string
	APIKey    string
	UpdatedAt time.Time
}
