//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func setupPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(ctx) })

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	t.Cleanup(pool.Close)
	return pool
}

func ts() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func seedDocument(ctx context.Context, t *testing.T, pool *pgxpool.Pool) (*domain.Collection, *domain.Document) {
	t.Helper()
	col := domain.NewCollection(uuid.NewString(), "docs-"+uuid.NewString()[:8], domain.CollectionTypeDoc, ts())
	require.NoError(t, NewCollectionRepository(pool).Create(ctx, col))

	docID := uuid.NewString()
	doc := domain.NewDocument(docID, col.ID, "guide.pdf", "collections/"+col.ID+"/"+docID+".pdf", ts())
	require.NoError(t, NewDocumentRepository(pool).Create(ctx, doc))
	return col, doc
}
