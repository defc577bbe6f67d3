// Package jobs is the request boundary in front of the job store: it
// validates new work, drops duplicates and nudges the dispatcher.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pdfforge/internal/dedup"
	"pdfforge/internal/domain"
)

const (
	DefaultTier       = "standard"
	MaxPromptRunes    = 4000
	MaxImageBytes     = 5 << 20
	maxTierLength     = 32
	defaultRegenLimit = 10
)

// Trigger starts a background drain. Dispatcher satisfies it.
type Trigger interface {
	Trigger(ctx context.Context)
}

// QuotaGate decides whether an owner may enqueue more work. Billing lives
// elsewhere; the gate only answers yes or ErrQuotaExceeded.
type QuotaGate interface {
	Allow(ctx context.Context, ownerID *string) error
}

// AllowAll is the default gate.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, *string) error { return nil }

type Config struct {
	DedupWindow      time.Duration
	MaxRegenerations int
}

type CreateRequest struct {
	Prompt  string
	Tier    string
	OwnerID *string
	Image   []byte
}

// Created is the answer to a create or regenerate call. Duplicate means the
// id belongs to an earlier job that is still usable.
type Created struct {
	JobID     string
	Status    domain.JobStatus
	Duplicate bool
}

type Service struct {
	store   domain.JobRepository
	checker *dedup.Checker
	quota   QuotaGate
	trigger Trigger
	cfg     Config
	logger  zerolog.Logger
	newID   func() string
}

// NewService wires the service. quota and trigger may be nil.
func NewService(store domain.JobRepository, quota QuotaGate, trigger Trigger, cfg Config, logger zerolog.Logger) *Service {
	if quota == nil {
		quota = AllowAll{}
	}
	if cfg.MaxRegenerations <= 0 {
		cfg.MaxRegenerations = defaultRegenLimit
	}
	return &Service{
		store:   store,
		checker: dedup.NewChecker(store, cfg.DedupWindow),
		quota:   quota,
		trigger: trigger,
		cfg:     cfg,
		logger:  logger.With().Str("component", "jobs").Logger(),
		newID:   uuid.NewString,
	}
}

// Create enqueues a render job unless an identical request from the same
// owner is already queued, running or completed within the dedup window.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Created, error) {
	prompt, tier, err := validate(req.Prompt, req.Tier)
	if err != nil {
		return Created{}, err
	}
	if len(req.Image) > MaxImageBytes {
		return Created{}, fmt.Errorf("%w: image exceeds %d bytes", domain.ErrValidation, MaxImageBytes)
	}
	ownerID := normalizeOwner(req.OwnerID)
	if err := s.quota.Allow(ctx, ownerID); err != nil {
		return Created{}, err
	}

	var digest *string
	if len(req.Image) > 0 {
		d := dedup.ImageDigest(req.Image)
		digest = &d
	}
	check, err := s.checker.Check(ctx, prompt, dedup.CheckOptions{
		Options: dedup.Options{OwnerID: ownerID, Tier: tier, ImageDigest: digest},
	})
	if err != nil {
		return Created{}, err
	}
	if check.Duplicate {
		s.logger.Info().Str("job_id", check.ExistingJobID).Msg("duplicate request short-circuited")
		existing, err := s.store.GetByID(ctx, check.ExistingJobID)
		if err != nil {
			return Created{}, fmt.Errorf("load duplicate: %w", err)
		}
		return Created{JobID: existing.ID, Status: existing.Status, Duplicate: true}, nil
	}

	fp := check.Fingerprint
	job := &domain.Job{
		ID:          s.newID(),
		OwnerID:     ownerID,
		Prompt:      prompt,
		PromptHash:  &fp,
		Tier:        tier,
		ImageDigest: digest,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return Created{}, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("tier", tier).Msg("job queued")
	s.kick(ctx)
	return Created{JobID: job.ID, Status: job.Status}, nil
}

// Regenerate queues a fresh child of parentID. An empty prompt reuses the
// parent's. The chain is capped at MaxRegenerations.
func (s *Service) Regenerate(ctx context.Context, parentID string, ownerID *string, prompt string) (Created, error) {
	if _, err := uuid.Parse(parentID); err != nil {
		return Created{}, fmt.Errorf("%w: malformed job id", domain.ErrValidation)
	}
	parent, err := s.store.GetByID(ctx, parentID)
	if err != nil {
		return Created{}, err
	}
	ownerID = normalizeOwner(ownerID)
	if parent.OwnerID != nil && (ownerID == nil || *ownerID != *parent.OwnerID) {
		return Created{}, domain.ErrNotFound
	}
	if parent.RegenerationCount >= s.cfg.MaxRegenerations {
		return Created{}, fmt.Errorf("%w: %d regenerations", domain.ErrRegenerationLimit, parent.RegenerationCount)
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = parent.Prompt
	}
	prompt, tier, err := validate(prompt, parent.Tier)
	if err != nil {
		return Created{}, err
	}
	if err := s.quota.Allow(ctx, parent.OwnerID); err != nil {
		return Created{}, err
	}

	fp := dedup.Hash(prompt, dedup.Options{OwnerID: parent.OwnerID, Tier: tier, ImageDigest: parent.ImageDigest})
	pid := parent.ID
	job := &domain.Job{
		ID:                s.newID(),
		OwnerID:           parent.OwnerID,
		Prompt:            prompt,
		PromptHash:        &fp,
		Tier:              tier,
		ImageDigest:       parent.ImageDigest,
		RegenerationCount: parent.RegenerationCount + 1,
		ParentJobID:       &pid,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return Created{}, fmt.Errorf("create regeneration: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("parent_job_id", pid).Int("regeneration", job.RegenerationCount).Msg("regeneration queued")
	s.kick(ctx)
	return Created{JobID: job.ID, Status: job.Status}, nil
}

// Get returns a job, hiding jobs that belong to another owner.
func (s *Service) Get(ctx context.Context, jobID string, ownerID *string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("%w: malformed job id", domain.ErrValidation)
	}
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ownerID = normalizeOwner(ownerID)
	if job.OwnerID != nil && (ownerID == nil || *ownerID != *job.OwnerID) {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *Service) kick(ctx context.Context) {
	if s.trigger != nil {
		s.trigger.Trigger(ctx)
	}
}

func validate(prompt, tier string) (string, string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", "", fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	if !utf8.ValidString(prompt) {
		return "", "", fmt.Errorf("%w: prompt is not valid UTF-8", domain.ErrValidation)
	}
	if utf8.RuneCountInString(prompt) > MaxPromptRunes {
		return "", "", fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrValidation, MaxPromptRunes)
	}
	tier = strings.ToLower(strings.TrimSpace(tier))
	if tier == "" {
		tier = DefaultTier
	}
	if len(tier) > maxTierLength {
		return "", "", fmt.Errorf("%w: tier too long", domain.ErrValidation)
	}
	return prompt, tier, nil
}

func normalizeOwner(ownerID *string) *string {
	if ownerID == nil {
		return nil
	}
	v := strings.TrimSpace(*ownerID)
	if v == "" {
		return nil
	}
	return &v
}

// IsClientError reports whether err should be surfaced to the caller as a
// request problem rather than a server fault.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrQuotaExceeded) ||
		errors.Is(err, domain.ErrRegenerationLimit)
}
