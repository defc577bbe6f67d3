package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pdfforge/internal/domain"
)

// MemoryJobRepository is a process-local domain.JobRepository. Claim is a
// compare-and-set under a mutex, so it is exclusive only within one process.
// It backs tests and single-process demos.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	seq  int64
	now  func() time.Time

	// History records every status change as "id:from->to".
	history []string
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*domain.Job), now: time.Now}
}

// SetClock overrides the timestamp source.
func (m *MemoryJobRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryJobRepository) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	// Sequence breaks created_at ties so ListQueued order is stable.
	m.seq++
	ts := m.now().Add(time.Duration(m.seq))
	job.Status = domain.JobStatusQueued
	job.Stage = domain.StageQueued
	job.Attempts = 0
	job.Progress = 0
	job.CreatedAt = ts
	job.UpdatedAt = ts
	cp := cloneJob(job)
	m.jobs[job.ID] = cp
	return nil
}

func (m *MemoryJobRepository) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *MemoryJobRepository) ListQueued(ctx context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusQueued {
			out = append(out, *cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryJobRepository) Claim(ctx context.Context, jobID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusQueued {
		return 0, false, nil
	}
	m.transitionLocked(job, domain.JobStatusProcessing)
	job.Attempts++
	job.Stage = domain.StageClaimed
	job.Progress = 0
	return job.Attempts, true, nil
}

func (m *MemoryJobRepository) UpdateProgress(ctx context.Context, jobID string, progress int, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return nil
	}
	if progress > job.Progress {
		job.Progress = min(progress, 100)
	}
	job.Stage = stage
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryJobRepository) Complete(ctx context.Context, jobID, resultRef string) error {
	return m.finish(jobID, domain.JobStatusCompleted, func(job *domain.Job) {
		job.ResultRef = &resultRef
		job.ErrorMessage = nil
		job.Progress = 100
		job.Stage = domain.StageCompleted
	})
}

func (m *MemoryJobRepository) Requeue(ctx context.Context, jobID, errMsg string) error {
	return m.finish(jobID, domain.JobStatusQueued, func(job *domain.Job) {
		job.ErrorMessage = &errMsg
		job.Progress = 0
		job.Stage = domain.StageRetrying
	})
}

func (m *MemoryJobRepository) Fail(ctx context.Context, jobID, errMsg string) error {
	return m.finish(jobID, domain.JobStatusFailed, func(job *domain.Job) {
		job.ErrorMessage = &errMsg
		job.Stage = domain.StageFailed
	})
}

func (m *MemoryJobRepository) finish(jobID string, to domain.JobStatus, apply func(*domain.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := domain.CheckTransition(job.Status, to); err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	m.transitionLocked(job, to)
	apply(job)
	return nil
}

func (m *MemoryJobRepository) transitionLocked(job *domain.Job, to domain.JobStatus) {
	m.history = append(m.history, fmt.Sprintf("%s:%s->%s", job.ID, job.Status, to))
	job.Status = to
	job.UpdatedAt = m.now()
}

func (m *MemoryJobRepository) FindRecentByFingerprint(ctx context.Context, fingerprint string, ownerID *string, since time.Time) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.Job
	for _, job := range m.jobs {
		if job.PromptHash == nil || *job.PromptHash != fingerprint {
			continue
		}
		if !sameOwner(job.OwnerID, ownerID) || job.CreatedAt.Before(since) {
			continue
		}
		if best == nil || job.CreatedAt.After(best.CreatedAt) {
			best = job
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return cloneJob(best), nil
}

func (m *MemoryJobRepository) ClearStaleFingerprints(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, job := range m.jobs {
		if job.PromptHash != nil && job.Status.Terminal() && job.UpdatedAt.Before(before) {
			job.PromptHash = nil
			n++
		}
	}
	return n, nil
}

func (m *MemoryJobRepository) RecoverStale(ctx context.Context, before time.Time, maxAttempts int, errMsg string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, job := range m.jobs {
		if job.Status != domain.JobStatusProcessing || !job.UpdatedAt.Before(before) {
			continue
		}
		msg := errMsg
		job.ErrorMessage = &msg
		if job.Attempts >= maxAttempts {
			m.transitionLocked(job, domain.JobStatusFailed)
			job.Stage = domain.StageFailed
		} else {
			m.transitionLocked(job, domain.JobStatusQueued)
			job.Stage = domain.StageRetrying
			job.Progress = 0
		}
		n++
	}
	return n, nil
}

func (m *MemoryJobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[domain.JobStatus]int{
		domain.JobStatusQueued:     0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusCompleted:  0,
		domain.JobStatusFailed:     0,
	}
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// History returns the recorded status changes in order.
func (m *MemoryJobRepository) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

func sameOwner(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneJob(j *domain.Job) *domain.Job {
	cp := *j
	cp.OwnerID = clonePtr(j.OwnerID)
	cp.PromptHash = clonePtr(j.PromptHash)
	cp.ImageDigest = clonePtr(j.ImageDigest)
	cp.ErrorMessage = clonePtr(j.ErrorMessage)
	cp.ResultRef = clonePtr(j.ResultRef)
	cp.ParentJobID = clonePtr(j.ParentJobID)
	return &cp
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

var _ domain.JobRepository = (*MemoryJobRepository)(nil)
