// Package dispatch drains queued jobs: it claims a bounded batch through the
// job store's compare-and-set and renders each claimed job on a leased page.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"pdfforge/internal/domain"
	"pdfforge/internal/markup"
	"pdfforge/internal/pool"
	"pdfforge/internal/render"
	"pdfforge/internal/storage"
)

const maxErrorMessage = 500

// Leaser hands out pages from the resource pool.
type Leaser interface {
	AcquireLease(ctx context.Context) (*pool.Lease, error)
	ReleaseLease(lease *pool.Lease)
	Live() int
}

// Renderer prints markup on a leased page.
type Renderer interface {
	Render(ctx context.Context, lease *pool.Lease, markup string) ([]byte, error)
}

// Config tunes one Dispatcher. Zero values fall back to defaults.
type Config struct {
	Concurrency    int
	MaxAttempts    int
	MaxJobs        int
	MaxDuration    time.Duration
	WritebackLimit time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxJobs <= 0 {
		c.MaxJobs = 5
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 25 * time.Second
	}
	if c.WritebackLimit <= 0 {
		c.WritebackLimit = 10 * time.Second
	}
	return c
}

// Deps are the collaborators a Dispatcher drives.
type Deps struct {
	Store     domain.JobRepository
	Pool      Leaser
	Renderer  Renderer
	Generator markup.Generator
	Artifacts storage.ArtifactStore
	Observer  Observer
}

// Result summarises one drain.
type Result struct {
	Claimed   int
	Processed int
	Completed int
	Requeued  int
	Failed    int
	Elapsed   time.Duration
}

// ErrCatastrophic is returned by Drain when no engine instance can be started
// at all. Claiming stops at that point.
var ErrCatastrophic = errors.New("dispatch: resource pool unavailable")

type Dispatcher struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time

	background sync.WaitGroup
}

func New(deps Deps, cfg Config, logger zerolog.Logger) *Dispatcher {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Dispatcher{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "dispatch").Logger(),
		tracer: otel.Tracer("pdfforge/dispatch"),
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config { return d.cfg }

// halt records the first catastrophic error seen by any worker.
type halt struct {
	mu  sync.Mutex
	err error
}

func (h *halt) set(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

func (h *halt) get() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

type tally struct {
	mu sync.Mutex
	Result
}

func (t *tally) add(o outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Processed++
	switch o {
	case outcomeCompleted:
		t.Completed++
	case outcomeRequeued:
		t.Requeued++
	case outcomeFailed:
		t.Failed++
	}
}

// Drain claims at most maxJobs queued jobs in created_at order and processes
// them on up to Concurrency workers. The budget is checked before every claim
// and bounds the wait for a free worker; renders already started are allowed
// to finish. Non-positive arguments use the configured defaults.
func (d *Dispatcher) Drain(ctx context.Context, maxJobs int, maxDuration time.Duration) (Result, error) {
	if maxJobs <= 0 {
		maxJobs = d.cfg.MaxJobs
	}
	if maxDuration <= 0 {
		maxDuration = d.cfg.MaxDuration
	}
	start := d.now()
	d.deps.Observer.DrainStarted()

	ctx, span := d.tracer.Start(ctx, "dispatch.drain", trace.WithAttributes(
		attribute.Int("drain.max_jobs", maxJobs),
		attribute.Int64("drain.max_ms", maxDuration.Milliseconds()),
	))
	defer span.End()

	res, err := d.drain(ctx, start, maxJobs, maxDuration)
	res.Elapsed = d.now().Sub(start)
	span.SetAttributes(attribute.Int("drain.claimed", res.Claimed), attribute.Int("drain.completed", res.Completed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.deps.Observer.DrainFinished(res, err)

	ev := d.logger.Info()
	if err != nil {
		ev = d.logger.Error().Err(err)
	}
	ev.Int("claimed", res.Claimed).
		Int("completed", res.Completed).
		Int("requeued", res.Requeued).
		Int("failed", res.Failed).
		Dur("elapsed", res.Elapsed).
		Msg("drain finished")
	return res, err
}

func (d *Dispatcher) drain(ctx context.Context, start time.Time, maxJobs int, maxDuration time.Duration) (Result, error) {
	jobs, err := d.deps.Store.ListQueued(ctx, maxJobs)
	if err != nil {
		return Result{}, fmt.Errorf("list queued: %w", err)
	}
	if len(jobs) == 0 {
		return Result{}, nil
	}

	var (
		sem     = semaphore.NewWeighted(int64(d.cfg.Concurrency))
		wg      sync.WaitGroup
		stop    halt
		counts  tally
		claimed int
		// Workers keep going when the trigger's context is cancelled; only
		// claiming is bound to ctx.
		workCtx = context.WithoutCancel(ctx)
	)

	for _, job := range jobs {
		if stop.get() != nil {
			break
		}
		remaining := maxDuration - d.now().Sub(start)
		if remaining <= 0 {
			d.logger.Debug().Str("job_id", job.ID).Msg("drain budget spent before claim")
			break
		}
		acquireCtx, cancel := context.WithTimeout(ctx, remaining)
		err := sem.Acquire(acquireCtx, 1)
		cancel()
		if err != nil {
			break
		}
		if stop.get() != nil {
			sem.Release(1)
			break
		}

		attempts, ok, err := d.deps.Store.Claim(ctx, job.ID)
		if err != nil {
			sem.Release(1)
			d.logger.Error().Err(err).Str("job_id", job.ID).Msg("claim failed")
			continue
		}
		if !ok {
			sem.Release(1)
			d.deps.Observer.ClaimLost()
			continue
		}
		claimed++

		wg.Add(1)
		go func(job domain.Job, attempts int) {
			defer wg.Done()
			defer sem.Release(1)
			o, fatal := d.process(workCtx, job, attempts)
			counts.add(o)
			if fatal != nil {
				stop.set(fatal)
			}
		}(job, attempts)
	}
	wg.Wait()

	res := counts.Result
	res.Claimed = claimed
	return res, stop.get()
}

type outcome string

const (
	outcomeCompleted outcome = "completed"
	outcomeRequeued  outcome = "requeued"
	outcomeFailed    outcome = "failed"
	outcomeLost      outcome = "writeback_failed"
)

// process runs one claimed job to an outcome. A non-nil error means the pool
// cannot start any instance and the drain must stop.
func (d *Dispatcher) process(ctx context.Context, job domain.Job, attempts int) (outcome, error) {
	started := d.now()
	ctx, span := d.tracer.Start(ctx, "dispatch.job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.tier", job.Tier),
		attribute.Int("job.attempt", attempts),
	), trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	log := d.logger.With().Str("job_id", job.ID).Int("attempt", attempts).Logger()
	log.Info().Msg("job claimed")

	ref, err := d.runSafely(ctx, job)
	if err == nil {
		if werr := d.writeback(ctx, func(ctx context.Context) error {
			return d.deps.Store.Complete(ctx, job.ID, ref)
		}); werr != nil {
			log.Error().Err(werr).Msg("complete writeback failed")
			span.RecordError(werr)
			d.deps.Observer.JobFinished(string(outcomeLost), d.now().Sub(started))
			return outcomeLost, nil
		}
		log.Info().Str("result_ref", ref).Msg("job completed")
		d.deps.Observer.JobFinished(string(outcomeCompleted), d.now().Sub(started))
		return outcomeCompleted, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	decision, fatal := d.classify(err, attempts)
	msg := shortMessage(err)

	var werr error
	switch decision {
	case outcomeRequeued:
		werr = d.writeback(ctx, func(ctx context.Context) error { return d.deps.Store.Requeue(ctx, job.ID, msg) })
		log.Warn().Err(err).Int("max_attempts", d.cfg.MaxAttempts).Msg("job requeued")
	default:
		werr = d.writeback(ctx, func(ctx context.Context) error { return d.deps.Store.Fail(ctx, job.ID, msg) })
		log.Error().Err(err).Msg("job failed")
	}
	if werr != nil {
		log.Error().Err(werr).Str("decision", string(decision)).Msg("status writeback failed")
		decision = outcomeLost
	}
	d.deps.Observer.JobFinished(string(decision), d.now().Sub(started))
	return decision, fatal
}

// classify applies the retry policy. Pool exhaustion and launch failures
// return the job to the queue without spending the attempts cap.
func (d *Dispatcher) classify(err error, attempts int) (outcome, error) {
	switch {
	case render.IsPermanent(err), errors.Is(err, domain.ErrValidation):
		return outcomeFailed, nil
	case errors.Is(err, domain.ErrResourceExhausted):
		return outcomeRequeued, nil
	case errors.Is(err, pool.ErrLaunchFailed):
		if d.deps.Pool.Live() == 0 {
			return outcomeRequeued, fmt.Errorf("%w: %v", ErrCatastrophic, err)
		}
		return outcomeRequeued, nil
	case attempts < d.cfg.MaxAttempts:
		return outcomeRequeued, nil
	default:
		return outcomeFailed, nil
	}
}

// runSafely converts a panic in the job pipeline into an error so one bad job
// cannot take down the batch.
func (d *Dispatcher) runSafely(ctx context.Context, job domain.Job) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("job_id", job.ID).Bytes("stack", debug.Stack()).Msgf("job panicked: %v", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return d.run(ctx, job)
}

func (d *Dispatcher) run(ctx context.Context, job domain.Job) (string, error) {
	d.progress(ctx, job.ID, 10, domain.StageGenerating)
	doc, err := d.deps.Generator.Generate(ctx, markup.Request{
		JobID:   job.ID,
		Prompt:  job.Prompt,
		Tier:    job.Tier,
		OwnerID: job.OwnerID,
	})
	if err != nil {
		return "", fmt.Errorf("generate markup: %w", err)
	}
	if doc.FallbackReason != "" {
		d.logger.Warn().Str("job_id", job.ID).Str("reason", doc.FallbackReason).Msg("markup provider fell back")
	}

	d.progress(ctx, job.ID, 40, domain.StageRendering)
	lease, err := d.deps.Pool.AcquireLease(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire lease: %w", err)
	}
	pdf, err := func() ([]byte, error) {
		defer d.deps.Pool.ReleaseLease(lease)
		return d.deps.Renderer.Render(ctx, lease, doc.HTML)
	}()
	if err != nil {
		return "", err
	}

	d.progress(ctx, job.ID, 80, domain.StageStoring)
	ref, err := d.deps.Artifacts.Put(ctx, storage.DocumentKey(job.ID), pdf, storage.ContentTypePDF)
	if err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	return ref, nil
}

func (d *Dispatcher) progress(ctx context.Context, jobID string, pct int, stage string) {
	if err := d.writeback(ctx, func(ctx context.Context) error {
		return d.deps.Store.UpdateProgress(ctx, jobID, pct, stage)
	}); err != nil {
		d.logger.Warn().Err(err).Str("job_id", jobID).Str("stage", stage).Msg("progress update failed")
	}
}

func (d *Dispatcher) writeback(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.WritebackLimit)
	defer cancel()
	return fn(ctx)
}

func shortMessage(err error) string {
	msg := strings.ToValidUTF8(err.Error(), "\uFFFD")
	if len(msg) <= maxErrorMessage {
		return msg
	}
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// DrainAsync starts a drain in the background. It is the fire-and-forget
// trigger used after job creation.
func (d *Dispatcher) DrainAsync(ctx context.Context, maxJobs int, maxDuration time.Duration) {
	d.background.Add(1)
	go func() {
		defer d.background.Done()
		_, _ = d.Drain(context.WithoutCancel(ctx), maxJobs, maxDuration)
	}()
}

// Trigger starts a background drain with the configured batch size and budget.
func (d *Dispatcher) Trigger(ctx context.Context) {
	d.DrainAsync(ctx, 0, 0)
}

// Wait blocks until every background drain has returned.
func (d *Dispatcher) Wait() {
	d.background.Wait()
}
