package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChunkRepository handles persistence of document chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

const chunkColumns = `id, document_id, chunk_index, content, tags, enabled, generation, created_at`

// ReplaceChunks deletes existing chunks for a document and inserts new ones.
// Callers run it inside a transaction so readers never see a mixed set.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return err
	}

	for _, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %d belongs to document %q, not %q", c.ChunkIndex, c.DocumentID, documentID)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		tags := c.Tags
		if tags == nil {
			tags = []string{}
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO chunks (document_id, chunk_index, content, tags, enabled, generation, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			documentID, c.ChunkIndex, c.Content, tags, c.Enabled, c.Generation, createdAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// ListByDocument returns the document's chunks in index order.
func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID string, filter domain.ChunkFilter) ([]*domain.Chunk, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + chunkColumns + ` FROM chunks WHERE document_id = $1`)
	args := []any{documentID}

	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		fmt.Fprintf(&sb, ` AND enabled = $%d`, len(args))
	}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		fmt.Fprintf(&sb, ` AND $%d = ANY(tags)`, len(args))
	}
	sb.WriteString(` ORDER BY chunk_index ASC`)

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []*domain.Chunk{}
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *ChunkRepository) GetByID(ctx context.Context, id int64) (*domain.Chunk, error) {
	c, err := scanChunk(r.db.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	return c, nil
}

// Update changes the mutable fields of a chunk. Nil arguments are left as is.
func (r *ChunkRepository) Update(ctx context.Context, id int64, enabled *bool, tags []string) (*domain.Chunk, error) {
	c, err := scanChunk(r.db.QueryRow(ctx,
		`UPDATE chunks
		 SET enabled = COALESCE($1, enabled),
		     tags = COALESCE($2, tags)
		 WHERE id = $3
		 RETURNING `+chunkColumns,
		enabled, tags, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanChunk(row pgx.Row) (*domain.Chunk, error) {
	var c domain.Chunk
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.Tags, &c.Enabled, &c.Generation, &c.CreatedAt); err != nil {
		return nil, err
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &c, nil
}
