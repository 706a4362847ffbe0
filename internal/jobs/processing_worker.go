package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/service"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxRetries is the maximum number of retries for a rate-limited job
	MaxRetries = 3

	// DefaultConcurrency bounds how many claimed jobs run at once.
	DefaultConcurrency = 4
)

// ProcessingJobRepository defines the interface for processing job persistence
type ProcessingJobRepository interface {
	// ClaimPending marks up to limit pending jobs as processing and returns them
	ClaimPending(ctx context.Context, limit int) ([]*domain.ProcessingJob, error)
	UpdateStatus(ctx context.Context, id string, status domain.ProcessingJobStatus, errMsg string) error
	IncrementRetries(ctx context.Context, id string) error
}

// DocumentProcessor runs the pipeline for one document.
type DocumentProcessor interface {
	Process(ctx context.Context, input service.ProcessInput) (*service.ProcessResult, error)
}

// ProcessingWorker drains queued processing jobs.
type ProcessingWorker struct {
	repo        ProcessingJobRepository
	processor   DocumentProcessor
	concurrency int
	logger      *slog.Logger
}

// NewProcessingWorker creates a new ProcessingWorker instance
func NewProcessingWorker(repo ProcessingJobRepository, processor DocumentProcessor, concurrency int, logger *slog.Logger) *ProcessingWorker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessingWorker{
		repo:        repo,
		processor:   processor,
		concurrency: concurrency,
		logger:      logger.With("component", "processing-worker"),
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *ProcessingWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, w.concurrency*2)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	w.logger.Info("processing pending jobs", "count", len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := w.processJob(gctx, job); err != nil {
				w.logger.Error("error processing job", "job_id", job.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *ProcessingWorker) processJob(ctx context.Context, job *domain.ProcessingJob) error {
	logger := w.logger.With("job_id", job.ID, "document_id", job.DocumentID)
	logger.Debug("processing job")

	_, err := w.processor.Process(ctx, service.ProcessInput{
		DocumentID: job.DocumentID,
		Identity:   job.Identity,
		Config:     job.Config,
	})
	if err != nil {
		return w.handleJobFailure(ctx, logger, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.ProcessingJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	logger.Info("job completed")
	return nil
}

// handleJobFailure requeues rate-limited jobs until MaxRetries and fails
// everything else immediately.
func (w *ProcessingWorker) handleJobFailure(ctx context.Context, logger *slog.Logger, job *domain.ProcessingJob, jobErr error) error {
	logger.Warn("job failed", "code", domain.ErrorCode(jobErr), "error", jobErr)

	if !domain.HasCode(jobErr, domain.ErrCodeProviderRateLimited) {
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.ProcessingJobStatusFailed, jobErr.Error()); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		logger.Warn("job exceeded max retries", "max_retries", MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.ProcessingJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	logger.Info("job will be retried", "attempt", job.Retries+1, "max_retries", MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.ProcessingJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
