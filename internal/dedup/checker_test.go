package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pdfforge/internal/domain"
)

type stubLookup struct {
	jobs []domain.Job
	err  error

	gotOwner *string
	gotSince time.Time
}

func (s *stubLookup) FindRecentByFingerprint(ctx context.Context, fp string, ownerID *string, since time.Time) (*domain.Job, error) {
	s.gotOwner = ownerID
	s.gotSince = since
	if s.err != nil {
		return nil, s.err
	}
	var best *domain.Job
	for i := range s.jobs {
		j := &s.jobs[i]
		if j.PromptHash == nil || *j.PromptHash != fp || j.CreatedAt.Before(since) {
			continue
		}
		if ownerID != nil && (j.OwnerID == nil || *j.OwnerID != *ownerID) {
			continue
		}
		if best == nil || j.CreatedAt.After(best.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best, nil
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestCheckerDuplicateWithinWindow(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	owner := strPtr("user-1")
	fp := Hash("Generate an invoice", Options{OwnerID: owner})
	lookup := &stubLookup{jobs: []domain.Job{{
		ID:         "job-1",
		OwnerID:    owner,
		PromptHash: &fp,
		Status:     domain.JobStatusQueued,
		CreatedAt:  now.Add(-2 * time.Minute),
	}}}
	c := NewChecker(lookup, 5*time.Minute)
	c.now = fixedClock(now)

	res, err := c.Check(context.Background(), "generate an  invoice", CheckOptions{Options: Options{OwnerID: owner}})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !res.Duplicate || res.ExistingJobID != "job-1" {
		t.Fatalf("expected duplicate of job-1, got %+v", res)
	}
	if res.Fingerprint != fp {
		t.Fatalf("fingerprint mismatch: %s vs %s", res.Fingerprint, fp)
	}
	if !lookup.gotSince.Equal(now.Add(-5 * time.Minute)) {
		t.Fatalf("unexpected window start %v", lookup.gotSince)
	}
}

func TestCheckerDifferentOwnerIsNotDuplicate(t *testing.T) {
	now := time.Now()
	fp := Hash("Generate an invoice", Options{OwnerID: strPtr("user-1")})
	lookup := &stubLookup{jobs: []domain.Job{{
		ID: "job-1", OwnerID: strPtr("user-1"), PromptHash: &fp,
		Status: domain.JobStatusQueued, CreatedAt: now,
	}}}
	c := NewChecker(lookup, 5*time.Minute)

	res, err := c.Check(context.Background(), "Generate an invoice", CheckOptions{Options: Options{OwnerID: strPtr("user-2")}})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("different owner must not be a duplicate: %+v", res)
	}
}

func TestCheckerIgnoresFailedAndResultlessJobs(t *testing.T) {
	now := time.Now()
	fp := Hash("quarterly report", Options{})
	for _, job := range []domain.Job{
		{ID: "failed", PromptHash: &fp, Status: domain.JobStatusFailed, CreatedAt: now},
		{ID: "completed-no-ref", PromptHash: &fp, Status: domain.JobStatusCompleted, CreatedAt: now},
	} {
		c := NewChecker(&stubLookup{jobs: []domain.Job{job}}, time.Minute)
		res, err := c.Check(context.Background(), "quarterly report", CheckOptions{})
		if err != nil {
			t.Fatalf("Check error: %v", err)
		}
		if res.Duplicate {
			t.Fatalf("%s job must not short-circuit a retry", job.ID)
		}
	}

	ref := "documents/x/document.pdf"
	c := NewChecker(&stubLookup{jobs: []domain.Job{{
		ID: "done", PromptHash: &fp, Status: domain.JobStatusCompleted, ResultRef: &ref, CreatedAt: now,
	}}}, time.Minute)
	res, err := c.Check(context.Background(), "quarterly report", CheckOptions{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !res.Duplicate || res.ExistingJobID != "done" {
		t.Fatalf("completed job with result should be reused, got %+v", res)
	}
}

func TestCheckerWindowOverride(t *testing.T) {
	now := time.Now()
	fp := Hash("menu", Options{})
	lookup := &stubLookup{jobs: []domain.Job{{
		ID: "old", PromptHash: &fp, Status: domain.JobStatusQueued, CreatedAt: now.Add(-10 * time.Minute),
	}}}
	c := NewChecker(lookup, 5*time.Minute)
	c.now = fixedClock(now)

	res, _ := c.Check(context.Background(), "menu", CheckOptions{})
	if res.Duplicate {
		t.Fatal("job outside the default window must not match")
	}
	res, _ = c.Check(context.Background(), "menu", CheckOptions{Window: 15 * time.Minute})
	if !res.Duplicate {
		t.Fatal("job inside the widened window should match")
	}
}

func TestCheckerLookupError(t *testing.T) {
	boom := errors.New("db down")
	c := NewChecker(&stubLookup{err: boom}, time.Minute)
	if _, err := c.Check(context.Background(), "x", CheckOptions{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped lookup error, got %v", err)
	}
}

type stubPruner struct {
	before time.Time
	n      int64
	err    error
}

func (s *stubPruner) ClearStaleFingerprints(ctx context.Context, before time.Time) (int64, error) {
	s.before = before
	return s.n, s.err
}

func TestHousekeeperPrune(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &stubPruner{n: 7}
	h := NewHousekeeper(p, 24*time.Hour, zerolog.Nop())
	h.now = fixedClock(now)

	n, err := h.Prune(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if !p.before.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected cutoff %v", p.before)
	}
}
