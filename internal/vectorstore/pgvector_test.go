//go:build integration

package vectorstore

import (
	"context"
	"testing"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgvectorStore_UpsertLoadDelete(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	store := NewPgvectorStore(pool)

	_, err := store.Load(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrVectorCollectionAbsent)

	first := []Record{
		{Vector: []float32{1, 0, 0}, Text: "alpha", Metadata: Metadata{DocumentID: "doc-1", ChunkIndex: 0}},
		{Vector: []float32{0, 1, 0}, Text: "beta", Metadata: Metadata{DocumentID: "doc-1", ChunkIndex: 1}},
	}
	path, err := store.Upsert(ctx, "doc-1", first)
	require.NoError(t, err)
	assert.Equal(t, "pgvector://doc-1", path)

	second := []Record{
		{Vector: []float32{0.5, 0.5, 0}, Text: "gamma", Metadata: Metadata{DocumentID: "doc-1", ChunkIndex: 0}},
	}
	_, err = store.Upsert(ctx, "doc-1", second)
	require.NoError(t, err)

	loaded, err := store.Load(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "gamma", loaded[0].Text)
	assert.Equal(t, []float32{0.5, 0.5, 0}, loaded[0].Vector)
	assert.Equal(t, "doc-1", loaded[0].Metadata.DocumentID)

	require.NoError(t, store.Delete(ctx, "doc-1"))
	_, err = store.Load(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrVectorCollectionAbsent)
}

func TestPgvectorStore_RejectsInvalidID(t *testing.T) {
	store := &PgvectorStore{}
	_, err := store.Upsert(context.Background(), "../escape", nil)
	assert.Equal(t, domain.ErrCodeStorage, domain.ErrorCode(err))
}
