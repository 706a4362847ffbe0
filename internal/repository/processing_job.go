package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProcessingJobRepository struct {
	db dbtx
}

func NewProcessingJobRepository(pool *pgxpool.Pool) *ProcessingJobRepository {
	return &ProcessingJobRepository{db: pool}
}

func NewProcessingJobRepositoryWithTx(tx pgx.Tx) *ProcessingJobRepository {
	return &ProcessingJobRepository{db: tx}
}

const jobColumns = `id, document_id, identity, config, status, retries, error, created_at, processed_at`

// Create stores a job. The embedding api_key is never written.
func (r *ProcessingJobRepository) Create(ctx context.Context, job *domain.ProcessingJob) error {
	cfg, err := json.Marshal(job.Config.Redacted())
	if err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO processing_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.DocumentID, job.Identity, cfg, job.Status, job.Retries,
		nullableString(job.Error), job.CreatedAt, job.ProcessedAt,
	)
	return err
}

func (r *ProcessingJobRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProcessingJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// ClaimPending marks up to limit pending jobs as processing and returns them.
// Concurrent workers never claim the same job.
func (r *ProcessingJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.ProcessingJob, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM processing_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE processing_jobs
		 SET status = $3,
		     error = NULL,
		     processed_at = NULL
		 FROM cte
		 WHERE processing_jobs.id = cte.id
		 RETURNING processing_jobs.id, processing_jobs.document_id, processing_jobs.identity,
		           processing_jobs.config, processing_jobs.status, processing_jobs.retries,
		           processing_jobs.error, processing_jobs.created_at, processing_jobs.processed_at`,
		domain.ProcessingJobStatusPending, limit, domain.ProcessingJobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *ProcessingJobRepository) UpdateStatus(ctx context.Context, id string, status domain.ProcessingJobStatus, errMsg string) error {
	var processedAt *time.Time
	if status == domain.ProcessingJobStatusCompleted || status == domain.ProcessingJobStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE processing_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), processedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrProcessingJobNotFound
	}
	return nil
}

func (r *ProcessingJobRepository) IncrementRetries(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE processing_jobs SET retries = retries + 1 WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrProcessingJobNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	var cfg []byte
	var errMsg pgtype.Text
	if err := row.Scan(&job.ID, &job.DocumentID, &job.Identity, &cfg, &job.Status, &job.Retries,
		&errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &job.Config); err != nil {
		return nil, fmt.Errorf("decode job config: %w", err)
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}
