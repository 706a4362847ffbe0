package service

import (
	"context"
	"sort"
	"sync"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/pagination"
)

// memDocuments is an in-memory DocumentRepositoryInterface.
type memDocuments struct {
	mu   sync.Mutex
	docs map[string]*domain.Document
	gets int

	// deleteOnGet removes every document right before the n-th GetByID call.
	deleteOnGet int
}

func newMemDocuments() *memDocuments {
	return &memDocuments{docs: make(map[string]*domain.Document)}
}

func (m *memDocuments) Create(_ context.Context, d *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *memDocuments) GetByID(_ context.Context, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.deleteOnGet > 0 && m.gets == m.deleteOnGet {
		m.docs = make(map[string]*domain.Document)
	}
	d, ok := m.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDocuments) ListByCollection(_ context.Context, collectionID string, after *pagination.Cursor, limit int) ([]*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Document
	for _, d := range m.docs {
		if d.CollectionID != collectionID {
			continue
		}
		if after != nil && !keysetAfter(d, after) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func keysetAfter(d *domain.Document, c *pagination.Cursor) bool {
	if d.CreatedAt.Equal(c.Timestamp) {
		return d.ID > c.LastID
	}
	return d.CreatedAt.After(c.Timestamp)
}

// update applies fn like a database write would: a cancelled ctx is refused.
func (m *memDocuments) update(ctx context.Context, id string, fn func(d *domain.Document)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	fn(d)
	return nil
}

func (m *memDocuments) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	return m.update(ctx, id, func(d *domain.Document) {
		d.Status = status
		d.FailedStage = ""
		d.FailureReason = ""
	})
}

func (m *memDocuments) SetCharCount(ctx context.Context, id string, n int) error {
	return m.update(ctx, id, func(d *domain.Document) { d.CharCount = n })
}

func (m *memDocuments) MarkFailed(ctx context.Context, id string, stage domain.DocumentStatus, reason string) error {
	return m.update(ctx, id, func(d *domain.Document) {
		d.Status = domain.DocumentStatusFailed
		d.FailedStage = stage
		d.FailureReason = reason
	})
}

func (m *memDocuments) MarkReady(ctx context.Context, id, path string) error {
	return m.update(ctx, id, func(d *domain.Document) {
		d.Status = domain.DocumentStatusReady
		d.VectorStorePath = path
		d.FailedStage = ""
		d.FailureReason = ""
	})
}

func (m *memDocuments) ClearVectorStorePath(ctx context.Context, id string) error {
	return m.update(ctx, id, func(d *domain.Document) { d.VectorStorePath = "" })
}

func (m *memDocuments) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *memDocuments) get(id string) *domain.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

// memChunks is an in-memory ChunkRepositoryInterface.
type memChunks struct {
	mu     sync.Mutex
	byDoc  map[string][]domain.Chunk
	nextID int64
}

func newMemChunks() *memChunks {
	return &memChunks{byDoc: make(map[string][]domain.Chunk)}
}

func (m *memChunks) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		m.nextID++
		c.ID = m.nextID
		stored[i] = c
	}
	m.byDoc[documentID] = stored
	return nil
}

func (m *memChunks) ListByDocument(_ context.Context, documentID string, filter domain.ChunkFilter) ([]*domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Chunk{}
	for _, c := range m.byDoc[documentID] {
		if filter.Enabled != nil && c.Enabled != *filter.Enabled {
			continue
		}
		if filter.Tag != "" && !c.HasTag(filter.Tag) {
			continue
		}
		cp := c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memChunks) GetByID(_ context.Context, id int64) (*domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunks := range m.byDoc {
		for _, c := range chunks {
			if c.ID == id {
				cp := c
				return &cp, nil
			}
		}
	}
	return nil, domain.ErrChunkNotFound
}

func (m *memChunks) Update(_ context.Context, id int64, enabled *bool, tags []string) (*domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for doc, chunks := range m.byDoc {
		for i := range chunks {
			if chunks[i].ID != id {
				continue
			}
			if enabled != nil {
				chunks[i].Enabled = *enabled
			}
			if tags != nil {
				chunks[i].Tags = tags
			}
			m.byDoc[doc] = chunks
			cp := chunks[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrChunkNotFound
}

// memCollections is an in-memory CollectionRepositoryInterface.
type memCollections struct {
	mu   sync.Mutex
	cols map[string]*domain.Collection
}

func newMemCollections() *memCollections {
	return &memCollections{cols: make(map[string]*domain.Collection)}
}

func (m *memCollections) Create(_ context.Context, c *domain.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cols[c.ID]; ok {
		return domain.ErrCollectionAlreadyExists
	}
	cp := *c
	m.cols[c.ID] = &cp
	return nil
}

func (m *memCollections) GetByID(_ context.Context, id string) (*domain.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cols[id]
	if !ok {
		return nil, domain.ErrCollectionNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCollections) UpdateEmbeddingConfig(ctx context.Context, id string, cfg domain.ProcessConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cols[id]
	if !ok {
		return domain.ErrCollectionNotFound
	}
	redacted := cfg.Redacted()
	c.EmbeddingConfig = &redacted
	return nil
}
