package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities. Claim is the only way a
// job leaves the queued state and must be a single conditional update in the
// backing store.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListQueued(ctx context.Context, limit int) ([]Job, error)
	Claim(ctx context.Context, jobID string) (attempts int, claimed bool, err error)
	UpdateProgress(ctx context.Context, jobID string, progress int, stage string) error
	Complete(ctx context.Context, jobID, resultRef string) error
	Requeue(ctx context.Context, jobID, errMsg string) error
	Fail(ctx context.Context, jobID, errMsg string) error
	FindRecentByFingerprint(ctx context.Context, fingerprint string, ownerID *string, since time.Time) (*Job, error)
	ClearStaleFingerprints(ctx context.Context, before time.Time) (int64, error)
	// RecoverStale moves processing jobs not touched since before back to
	// queued, or to failed once attempts reached maxAttempts.
	RecoverStale(ctx context.Context, before time.Time, maxAttempts int, errMsg string) (int64, error)
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
}
