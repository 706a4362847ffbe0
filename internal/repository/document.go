package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

const documentColumns = `id, collection_id, filename, storage_key, char_count, status,
	failed_stage, failure_reason, vector_store_path, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.CollectionID, d.Filename, d.StorageKey, d.CharCount, d.Status,
		nullableString(string(d.FailedStage)), nullableString(d.FailureReason),
		nullableString(d.VectorStorePath), d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	d, err := scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListByCollection returns up to limit documents ordered by (created_at, id),
// starting after the cursor position when one is given.
func (r *DocumentRepository) ListByCollection(ctx context.Context, collectionID string, after *pagination.Cursor, limit int) ([]*domain.Document, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+` FROM documents
			 WHERE collection_id = $1
			 ORDER BY created_at ASC, id ASC
			 LIMIT $2`,
			collectionID, limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+` FROM documents
			 WHERE collection_id = $1 AND (created_at, id) > ($2, $3)
			 ORDER BY created_at ASC, id ASC
			 LIMIT $4`,
			collectionID, after.Timestamp, after.LastID, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateStatus moves a document to an in-progress status and clears any
// previous failure.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	return r.exec(ctx,
		`UPDATE documents
		 SET status = $1, failed_stage = NULL, failure_reason = NULL, updated_at = $2
		 WHERE id = $3`,
		status, now(), id,
	)
}

func (r *DocumentRepository) SetCharCount(ctx context.Context, id string, charCount int) error {
	return r.exec(ctx,
		`UPDATE documents SET char_count = $1, updated_at = $2 WHERE id = $3`,
		charCount, now(), id,
	)
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, id string, stage domain.DocumentStatus, reason string) error {
	return r.exec(ctx,
		`UPDATE documents
		 SET status = $1, failed_stage = $2, failure_reason = $3, updated_at = $4
		 WHERE id = $5`,
		domain.DocumentStatusFailed, stage, reason, now(), id,
	)
}

func (r *DocumentRepository) MarkReady(ctx context.Context, id, vectorStorePath string) error {
	return r.exec(ctx,
		`UPDATE documents
		 SET status = $1, vector_store_path = $2, failed_stage = NULL, failure_reason = NULL, updated_at = $3
		 WHERE id = $4`,
		domain.DocumentStatusReady, vectorStorePath, now(), id,
	)
}

// ClearVectorStorePath drops the path when a run replaces the chunk set, so
// the column never points at records built from another generation.
func (r *DocumentRepository) ClearVectorStorePath(ctx context.Context, id string) error {
	return r.exec(ctx,
		`UPDATE documents SET vector_store_path = NULL, updated_at = $1 WHERE id = $2`,
		now(), id,
	)
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
}

func (r *DocumentRepository) exec(ctx context.Context, sql string, args ...any) error {
	cmdTag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var failedStage, failureReason, path pgtype.Text
	err := row.Scan(&d.ID, &d.CollectionID, &d.Filename, &d.StorageKey, &d.CharCount, &d.Status,
		&failedStage, &failureReason, &path, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if failedStage.Valid {
		d.FailedStage = domain.DocumentStatus(failedStage.String)
	}
	if failureReason.Valid {
		d.FailureReason = failureReason.String
	}
	if path.Valid {
		d.VectorStorePath = path.String
	}
	return &d, nil
}

func now() time.Time {
	return time.Now().UTC()
}
