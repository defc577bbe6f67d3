package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pdfforge/internal/domain"
	"pdfforge/internal/infra"
	"pdfforge/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new queued job. CreatedAt and UpdatedAt are filled from
// the database clock.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerID,
		job.Prompt,
		job.PromptHash,
		job.Tier,
		job.ImageDigest,
		job.RegenerationCount,
		job.ParentJobID,
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	job.Status = domain.JobStatusQueued
	job.Stage = domain.StageQueued
	job.Attempts = 0
	job.Progress = 0
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListQueued returns up to limit queued jobs, oldest first.
func (r *JobRepositoryPG) ListQueued(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListQueuedJobs, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Claim atomically moves a queued job to processing and returns the new
// attempt count. claimed is false when another caller got there first.
func (r *JobRepositoryPG) Claim(ctx context.Context, jobID string) (int, bool, error) {
	var attempts int
	if err := r.sql.QueryRow(ctx, sqlinline.QClaimJob, jobID).Scan(&attempts); err != nil {
		if infra.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	return attempts, true, nil
}

// UpdateProgress records progress on a processing job. Progress never moves
// backwards; updates to jobs no longer processing are ignored.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, jobID string, progress int, stage string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateJobProgress, jobID, progress, stage)
	return err
}

// Complete marks a processing job completed with its result reference.
func (r *JobRepositoryPG) Complete(ctx context.Context, jobID, resultRef string) error {
	return r.finish(ctx, sqlinline.QCompleteJob, jobID, resultRef, domain.JobStatusCompleted)
}

// Requeue returns a processing job to the queue.
func (r *JobRepositoryPG) Requeue(ctx context.Context, jobID, errMsg string) error {
	return r.finish(ctx, sqlinline.QRequeueJob, jobID, errMsg, domain.JobStatusQueued)
}

// Fail marks a processing job failed.
func (r *JobRepositoryPG) Fail(ctx context.Context, jobID, errMsg string) error {
	return r.finish(ctx, sqlinline.QFailJob, jobID, errMsg, domain.JobStatusFailed)
}

func (r *JobRepositoryPG) finish(ctx context.Context, query, jobID, arg string, to domain.JobStatus) error {
	tag, err := r.sql.Exec(ctx, query, jobID, arg)
	if err != nil {
		return fmt.Errorf("move job %s to %s: %w", jobID, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is not processing", domain.ErrInvalidTransition, jobID)
	}
	return nil
}

// FindRecentByFingerprint returns the newest job with the fingerprint created
// at or after since, or domain.ErrNotFound.
func (r *JobRepositoryPG) FindRecentByFingerprint(ctx context.Context, fingerprint string, ownerID *string, since time.Time) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QFindRecentJobByFingerprint, fingerprint, ownerID, since))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ClearStaleFingerprints drops fingerprints from terminal jobs last touched
// before the cutoff.
func (r *JobRepositoryPG) ClearStaleFingerprints(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QClearStaleFingerprints, before)
	if err != nil {
		return 0, fmt.Errorf("clear fingerprints: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecoverStale requeues processing jobs idle since before, failing those that
// already used maxAttempts.
func (r *JobRepositoryPG) RecoverStale(ctx context.Context, before time.Time, maxAttempts int, errMsg string) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QRecoverStaleJobs, before, maxAttempts, errMsg)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns the number of jobs per status. Statuses with no jobs
// are reported as zero.
func (r *JobRepositoryPG) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QCountJobsByStatus)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := map[domain.JobStatus]int{
		domain.JobStatusQueued:     0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusCompleted:  0,
		domain.JobStatusFailed:     0,
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Prompt,
		&job.PromptHash,
		&job.Tier,
		&job.ImageDigest,
		&status,
		&job.Attempts,
		&job.Progress,
		&job.Stage,
		&job.ErrorMessage,
		&job.ResultRef,
		&job.RegenerationCount,
		&job.ParentJobID,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if !job.Status.Valid() {
		return nil, fmt.Errorf("job %s: unknown status %q", job.ID, status)
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
