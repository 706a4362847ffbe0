package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUUIDGenerator struct {
	uuids     []string
	callCount int
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		uuid := m.uuids[m.callCount]
		m.callCount++
		return uuid
	}
	return "default-uuid"
}

type MockAPIKeyRepository struct {
	mock.Mock
}

func (m *MockAPIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockAPIKeyRepository) GetByID(ctx context.Context, id string) (*domain.APIKey, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) List(ctx context.Context, identity string) ([]*domain.APIKey, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAPIKeyRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockProviderKeyRepository struct {
	mock.Mock
}

func (m *MockProviderKeyRepository) GetProviderKey(ctx context.Context, identity, provider string) (*domain.ProviderKey, error) {
	args := m.Called(ctx, identity, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProviderKey), args.Error(1)
}

func (m *MockProviderKeyRepository) Set(ctx context.Context, key *domain.ProviderKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockProviderKeyRepository) Delete(ctx context.Context, identity, provider string) error {
	args := m.Called(ctx, identity, provider)
	return args.Error(0)
}

const validToken = "dp_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newAuthService(keys *MockAPIKeyRepository, providerKeys *MockProviderKeyRepository, uuids ...string) *AuthService {
	return NewAuthService(keys, providerKeys, NewMockUUIDGenerator(uuids...))
}

func TestAuthService_CreateAPIKey_GeneratesPrefixedToken(t *testing.T) {
	ctx := context.Background()
	keys := new(MockAPIKeyRepository)

	keys.On("Create", ctx, mock.MatchedBy(func(key *domain.APIKey) bool {
		return key.ID == "key-123" && key.Identity == "alice" && len(key.KeyHash) == 64
	})).Return(nil)

	token, err := newAuthService(keys, nil, "key-123").CreateAPIKey(ctx, "alice", "laptop")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "dp_"), "token should start with dp_")
	assert.Equal(t, 67, len(token), "token should be dp_ + 64 hex chars")
	assert.True(t, domain.IsValidAPIToken(token))
	keys.AssertExpectations(t)
}

func TestAuthService_CreateAPIKey_StoresSHA256Hash(t *testing.T) {
	ctx := context.Background()
	keys := new(MockAPIKeyRepository)

	var captured *domain.APIKey
	keys.On("Create", ctx, mock.MatchedBy(func(key *domain.APIKey) bool {
		captured = key
		return true
	})).Return(nil)

	token, err := newAuthService(keys, nil, "key-123").CreateAPIKey(ctx, "alice", "laptop")

	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.NotEqual(t, token, captured.KeyHash)
	assert.Equal(t, hashToken(token), captured.KeyHash)
}

func TestAuthService_CreateAPIKey_Validation(t *testing.T) {
	ctx := context.Background()
	keys := new(MockAPIKeyRepository)
	svc := newAuthService(keys, nil)

	_, err := svc.CreateAPIKey(ctx, "", "laptop")
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))

	_, err = svc.CreateAPIKey(ctx, "alice", "")
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))

	keys.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_CreateAPIKeyWithToken(t *testing.T) {
	ctx := context.Background()
	keys := new(MockAPIKeyRepository)
	keys.On("Create", ctx, mock.MatchedBy(func(key *domain.APIKey) bool {
		return key.KeyHash == hashToken(validToken) && key.Identity == "bootstrap"
	})).Return(nil)

	svc := newAuthService(keys, nil, "key-1")
	require.NoError(t, svc.CreateAPIKeyWithToken(ctx, "bootstrap", "init", validToken))

	err := svc.CreateAPIKeyWithToken(ctx, "bootstrap", "init", "sk_"+strings.Repeat("a", 64))
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))
	keys.AssertNumberOfCalls(t, "Create", 1)
}

func TestAuthService_ValidateAPIKey_ReturnsIdentity(t *testing.T) {
	ctx := context.Background()
	keys := new(MockAPIKeyRepository)
	keys.On("GetByHash", ctx, hashToken(validToken)).Return(&domain.APIKey{
		ID:        "key-123",
		Identity:  "alice",
		Name:      "laptop",
		KeyHash:   hashToken(validToken),
		CreatedAt: time.Now().UTC(),
	}, nil)

	identity, err := newAuthService(keys, nil).ValidateAPIKey(ctx, validToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestAuthService_ValidateAPIKey_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed", func(t *testing.T) {
		keys := new(MockAPIKeyRepository)
		_, err := newAuthService(keys, nil).ValidateAPIKey(ctx, "invalid-token")
		assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)
		keys.AssertNotCalled(t, "GetByHash", mock.Anything, mock.Anything)
	})

	t.Run("unknown", func(t *testing.T) {
		keys := new(MockAPIKeyRepository)
		keys.On("GetByHash", ctx, mock.Anything).Return(nil, domain.ErrAPIKeyNotFound)
		_, err := newAuthService(keys, nil).ValidateAPIKey(ctx, validToken)
		assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)
	})

	t.Run("revoked", func(t *testing.T) {
		revokedAt := time.Now().UTC()
		keys := new(MockAPIKeyRepository)
		keys.On("GetByHash", ctx, mock.Anything).Return(&domain.APIKey{
			ID: "key-123", Identity: "alice", Name: "laptop", KeyHash: "h", RevokedAt: &revokedAt,
		}, nil)
		_, err := newAuthService(keys, nil).ValidateAPIKey(ctx, validToken)
		assert.ErrorIs(t, err, domain.ErrAPIKeyRevoked)
	})
}

func TestAuthService_RevokeAPIKey(t *testing.T) {
	ctx := context.Background()
	keys := new(MockAPIKeyRepository)
	keys.On("Revoke", ctx, "key-123").Return(nil)
	keys.On("Revoke", ctx, "key-404").Return(domain.ErrAPIKeyNotFound)
	svc := newAuthService(keys, nil)

	require.NoError(t, svc.RevokeAPIKey(ctx, "key-123"))
	assert.ErrorIs(t, svc.RevokeAPIKey(ctx, "key-404"), domain.ErrAPIKeyNotFound)
	assert.Error(t, svc.RevokeAPIKey(ctx, ""))
}

func TestAuthService_ListAPIKeys(t *testing.T) {
	ctx := context.Background()
	keys := new(MockAPIKeyRepository)
	keys.On("List", ctx, "alice").Return([]*domain.APIKey{
		{ID: "key-1", Identity: "alice", Name: "a", KeyHash: "h1"},
		{ID: "key-2", Identity: "alice", Name: "b", KeyHash: "h2"},
	}, nil)

	result, err := newAuthService(keys, nil).ListAPIKeys(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, result, 2)
	keys.AssertExpectations(t)
}

func TestAuthService_SetProviderKey(t *testing.T) {
	ctx := context.Background()
	providerKeys := new(MockProviderKeyRepository)
	providerKeys.On("Set", ctx, mock.MatchedBy(func(k *domain.ProviderKey) bool {
		return k.Identity == "alice" && k.Provider == "qwen" && k.APIKey == "sk-qwen"
	})).Return(nil)
	svc := newAuthService(nil, providerKeys)

	require.NoError(t, svc.SetProviderKey(ctx, "alice", " Qwen ", " sk-qwen "))

	err := svc.SetProviderKey(ctx, "alice", "acme", "sk")
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))

	err = svc.SetProviderKey(ctx, "alice", "openai", "  ")
	assert.Equal(t, domain.ErrCodeValidation, domain.ErrorCode(err))

	providerKeys.AssertNumberOfCalls(t, "Set", 1)
}

func TestAuthService_DeleteProviderKey(t *testing.T) {
	ctx := context.Background()
	providerKeys := new(MockProviderKeyRepository)
	providerKeys.On("Delete", ctx, "alice", "openai").Return(nil)
	svc := newAuthService(nil, providerKeys)

	require.NoError(t, svc.DeleteProviderKey(ctx, "alice", "OpenAI"))
	assert.Error(t, svc.DeleteProviderKey(ctx, "", "openai"))
	providerKeys.AssertExpectations(t)
}
