package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloo-solutions/docpipe/internal/api/middleware"
	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) CreateAPIKey(ctx context.Context, identity, name string) (string, error) {
	args := m.Called(ctx, identity, name)
	return args.String(0), args.Error(1)
}

func (m *MockAuthService) SetProviderKey(ctx context.Context, identity, provider, apiKey string) error {
	args := m.Called(ctx, identity, provider, apiKey)
	return args.Error(0)
}

func (m *MockAuthService) DeleteProviderKey(ctx context.Context, identity, provider string) error {
	args := m.Called(ctx, identity, provider)
	return args.Error(0)
}

func withIdentity(req *http.Request, identity string) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.IdentityKey, identity))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "body: %s", w.Body.String())
	return data
}

func TestAuthHandler_CreateAPIKey_Success(t *testing.T) {
	mockSvc := new(MockAuthService)
	handler := NewAuthHandler(mockSvc)
	mockSvc.On("CreateAPIKey", mock.Anything, "alice", "ci").Return("dp_token", nil)

	req := httptest.NewRequest(http.MethodPost, "/apikeys", bytes.NewReader([]byte(`{"name":"ci"}`)))
	w := httptest.NewRecorder()

	handler.CreateAPIKey(w, withIdentity(req, "alice"))

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "dp_token", data["token"])
	assert.Equal(t, "alice", data["identity"])
	mockSvc.AssertExpectations(t)
}

func TestAuthHandler_CreateAPIKey_MissingName(t *testing.T) {
	handler := NewAuthHandler(new(MockAuthService))

	req := httptest.NewRequest(http.MethodPost, "/apikeys", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	handler.CreateAPIKey(w, withIdentity(req, "alice"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name is required")
}

func TestAuthHandler_CreateAPIKey_Unauthenticated(t *testing.T) {
	handler := NewAuthHandler(new(MockAuthService))

	req := httptest.NewRequest(http.MethodPost, "/apikeys", bytes.NewReader([]byte(`{"name":"ci"}`)))
	w := httptest.NewRecorder()

	handler.CreateAPIKey(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_SetProviderKey(t *testing.T) {
	mockSvc := new(MockAuthService)
	handler := NewAuthHandler(mockSvc)
	mockSvc.On("SetProviderKey", mock.Anything, "alice", "openai", "sk-1").Return(nil)

	req := httptest.NewRequest(http.MethodPut, "/provider-keys/openai", bytes.NewReader([]byte(`{"api_key":"sk-1"}`)))
	req = withURLParam(withIdentity(req, "alice"), "provider", "openai")
	w := httptest.NewRecorder()

	handler.SetProviderKey(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestAuthHandler_SetProviderKey_UnknownProvider(t *testing.T) {
	mockSvc := new(MockAuthService)
	handler := NewAuthHandler(mockSvc)
	mockSvc.On("SetProviderKey", mock.Anything, "alice", "acme", "sk-1").
		Return(domain.NewDomainError(domain.ErrCodeValidation, `unknown embedding provider "acme"`))

	req := httptest.NewRequest(http.MethodPut, "/provider-keys/acme", bytes.NewReader([]byte(`{"api_key":"sk-1"}`)))
	req = withURLParam(withIdentity(req, "alice"), "provider", "acme")
	w := httptest.NewRecorder()

	handler.SetProviderKey(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown embedding provider")
}

func TestAuthHandler_DeleteProviderKey_NotFound(t *testing.T) {
	mockSvc := new(MockAuthService)
	handler := NewAuthHandler(mockSvc)
	mockSvc.On("DeleteProviderKey", mock.Anything, "alice", "openai").Return(domain.ErrProviderKeyNotFound)

	req := httptest.NewRequest(http.MethodDelete, "/provider-keys/openai", nil)
	req = withURLParam(withIdentity(req, "alice"), "provider", "openai")
	w := httptest.NewRecorder()

	handler.DeleteProviderKey(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
