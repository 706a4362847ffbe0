package vectorstore

import (
	"context"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgvectorScheme prefixes paths reported by PgvectorStore.
const PgvectorScheme = "pgvector://"

// PgvectorStore keeps collections in the vector_records table.
type PgvectorStore struct {
	pool *pgxpool.Pool
}

func NewPgvectorStore(pool *pgxpool.Pool) *PgvectorStore {
	return &PgvectorStore{pool: pool}
}

// Upsert replaces the document's rows in one transaction.
func (s *PgvectorStore) Upsert(ctx context.Context, documentID string, records []Record) (string, error) {
	if err := validateDocumentID(documentID); err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", domain.NewStorageError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM vector_records WHERE document_id = $1`, documentID); err != nil {
		return "", domain.NewStorageError("failed to clear collection", err)
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(
			`INSERT INTO vector_records (document_id, chunk_index, content, embedding)
			 VALUES ($1, $2, $3, $4)`,
			documentID, rec.Metadata.ChunkIndex, rec.Text, pgvector.NewVector(rec.Vector),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return "", domain.NewStorageError("failed to insert records", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", domain.NewStorageError("failed to commit collection", err)
	}
	return PgvectorScheme + documentID, nil
}

func (s *PgvectorStore) Load(ctx context.Context, documentID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chunk_index, content, embedding::text
		 FROM vector_records WHERE document_id = $1
		 ORDER BY chunk_index ASC`,
		documentID,
	)
	if err != nil {
		return nil, domain.NewStorageError("failed to query collection", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var vec pgvector.Vector
		if err := rows.Scan(&rec.Metadata.ChunkIndex, &rec.Text, &vec); err != nil {
			return nil, domain.NewStorageError("failed to scan record", err)
		}
		rec.Vector = vec.Slice()
		rec.Metadata.DocumentID = documentID
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("failed to read collection", err)
	}
	if len(records) == 0 {
		return nil, domain.ErrVectorCollectionAbsent
	}
	return records, nil
}

func (s *PgvectorStore) Delete(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM vector_records WHERE document_id = $1`, documentID); err != nil {
		return domain.NewStorageError("failed to delete collection", err)
	}
	return nil
}
