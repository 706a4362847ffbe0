package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockChunkService struct {
	mock.Mock
}

func (m *MockChunkService) UpdateChunk(ctx context.Context, input service.UpdateChunkInput) (*domain.Chunk, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chunk), args.Error(1)
}

func TestChunkHandler_Update_Disable(t *testing.T) {
	svc := new(MockChunkService)
	handler := NewChunkHandler(svc)

	svc.On("UpdateChunk", mock.Anything, mock.MatchedBy(func(in service.UpdateChunkInput) bool {
		return in.ChunkID == 42 && in.Enabled != nil && !*in.Enabled && in.Tags == nil
	})).Return(&domain.Chunk{ID: 42, DocumentID: "doc-1", Enabled: false}, nil)

	req := httptest.NewRequest(http.MethodPatch, "/chunks/42", bytes.NewReader([]byte(`{"enabled":false}`)))
	w := httptest.NewRecorder()

	handler.Update(w, withURLParam(req, "id", "42"))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, false, data["enabled"])
	assert.Equal(t, []interface{}{}, data["tags"])
	svc.AssertExpectations(t)
}

func TestChunkHandler_Update_Tags(t *testing.T) {
	svc := new(MockChunkService)
	handler := NewChunkHandler(svc)

	svc.On("UpdateChunk", mock.Anything, service.UpdateChunkInput{ChunkID: 7, Tags: []string{"faq"}}).
		Return(&domain.Chunk{ID: 7, Enabled: true, Tags: []string{"faq"}}, nil)

	req := httptest.NewRequest(http.MethodPatch, "/chunks/7", bytes.NewReader([]byte(`{"tags":["faq"]}`)))
	w := httptest.NewRecorder()

	handler.Update(w, withURLParam(req, "id", "7"))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChunkHandler_Update_Errors(t *testing.T) {
	svc := new(MockChunkService)
	handler := NewChunkHandler(svc)

	w := httptest.NewRecorder()
	handler.Update(w, withURLParam(httptest.NewRequest(http.MethodPatch, "/chunks/abc", bytes.NewReader([]byte(`{}`))), "id", "abc"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid chunk id")

	w = httptest.NewRecorder()
	handler.Update(w, withURLParam(httptest.NewRequest(http.MethodPatch, "/chunks/1", bytes.NewReader([]byte(`{bad`))), "id", "1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.On("UpdateChunk", mock.Anything, service.UpdateChunkInput{ChunkID: 9}).Return(nil, domain.ErrChunkNotFound)
	w = httptest.NewRecorder()
	handler.Update(w, withURLParam(httptest.NewRequest(http.MethodPatch, "/chunks/9", bytes.NewReader([]byte(`{}`))), "id", "9"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
