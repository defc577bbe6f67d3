package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pdfforge/internal/domain"
)

// Lookup is the slice of the job store the checker needs.
type Lookup interface {
	FindRecentByFingerprint(ctx context.Context, fingerprint string, ownerID *string, since time.Time) (*domain.Job, error)
}

// CheckOptions scope a duplicate lookup. A zero Window uses the checker default.
type CheckOptions struct {
	Options
	Window time.Duration
}

// Result describes the outcome of a duplicate check.
type Result struct {
	Fingerprint   string
	Duplicate     bool
	ExistingJobID string
}

// Checker looks up recent jobs with the same fingerprint.
type Checker struct {
	lookup Lookup
	window time.Duration
	now    func() time.Time
}

// NewChecker builds a checker with the default dedup window.
func NewChecker(lookup Lookup, window time.Duration) *Checker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Checker{lookup: lookup, window: window, now: time.Now}
}

// Check fingerprints the request and reports whether a reusable job with the
// same fingerprint was created within the window.
func (c *Checker) Check(ctx context.Context, prompt string, opts CheckOptions) (Result, error) {
	fp := Hash(prompt, opts.Options)
	res := Result{Fingerprint: fp}

	window := opts.Window
	if window <= 0 {
		window = c.window
	}
	since := c.now().Add(-window)

	job, err := c.lookup.FindRecentByFingerprint(ctx, fp, opts.OwnerID, since)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return res, nil
		}
		return res, fmt.Errorf("dedup lookup: %w", err)
	}
	if job == nil || !job.Reusable() {
		return res, nil
	}
	res.Duplicate = true
	res.ExistingJobID = job.ID
	return res, nil
}

// Pruner clears fingerprints from old terminal jobs.
type Pruner interface {
	ClearStaleFingerprints(ctx context.Context, before time.Time) (int64, error)
}

// Housekeeper bounds fingerprint storage. Failures are logged and never
// affect correctness.
type Housekeeper struct {
	store     Pruner
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewHousekeeper(store Pruner, retention time.Duration, logger zerolog.Logger) *Housekeeper {
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return &Housekeeper{
		store:     store,
		retention: retention,
		logger:    logger.With().Str("component", "dedup").Logger(),
		now:       time.Now,
	}
}

// Prune clears fingerprints older than the retention window.
func (h *Housekeeper) Prune(ctx context.Context) (int64, error) {
	before := h.now().Add(-h.retention)
	n, err := h.store.ClearStaleFingerprints(ctx, before)
	if err != nil {
		h.logger.Warn().Err(err).Msg("dedup: prune fingerprints failed")
		return 0, err
	}
	if n > 0 {
		h.logger.Info().Int64("cleared", n).Time("before", before).Msg("dedup: fingerprints pruned")
	}
	return n, nil
}
