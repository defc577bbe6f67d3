package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"pdfforge/internal/bootstrap"
	"pdfforge/internal/dedup"
	"pdfforge/internal/dispatch"
	"pdfforge/internal/infra"
)

const (
	pruneInterval   = time.Hour
	maxSweepBackoff = 10 * time.Minute
)

type drainer interface {
	Drain(ctx context.Context, maxJobs int, maxDuration time.Duration) (dispatch.Result, error)
}

type pruner interface {
	Prune(ctx context.Context) (int64, error)
}

type recoverer interface {
	Recover(ctx context.Context) (int64, error)
}

// sweeper is the safety net behind the per-request drain trigger: it drains
// on a fixed interval so jobs left queued by a lost trigger or a requeue are
// eventually picked up.
type sweeper struct {
	drainer    drainer
	pruner     pruner
	recoverer  recoverer
	interval   time.Duration
	pruneEvery time.Duration
	logger     zerolog.Logger
}

func (s *sweeper) run(ctx context.Context) error {
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	s.logger.Info().Dur("interval", s.interval).Msg("worker: started")
	wait := s.interval
	lastPrune := time.Time{}
	lastRecover := time.Time{}
	for {
		if s.pruner != nil && time.Since(lastPrune) >= s.pruneEvery {
			_, _ = s.pruner.Prune(ctx)
			lastPrune = time.Now()
		}

		if s.recoverer != nil && time.Since(lastRecover) >= s.interval {
			_, _ = s.recoverer.Recover(ctx)
			lastRecover = time.Now()
		}

		res, err := s.drainer.Drain(ctx, 0, 0)
		switch {
		case errors.Is(err, dispatch.ErrCatastrophic):
			// wait may be zero after a full batch; back off from at least one interval.
			wait = min(max(wait, s.interval)*2, maxSweepBackoff)
			s.logger.Error().Err(err).Dur("retry_in", wait).Msg("worker: pool unavailable, backing off")
		case err != nil:
			wait = s.interval
			s.logger.Error().Err(err).Msg("worker: drain failed")
		default:
			wait = s.interval
			// A full batch suggests more work is waiting.
			if res.Claimed > 0 && res.Requeued == 0 && res.Failed == 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger, "pdfforge-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build runtime")
	}
	rt.Start(ctx)

	s := &sweeper{
		drainer:    rt.Dispatcher,
		pruner:     dedup.NewHousekeeper(rt.Jobs, cfg.FingerprintRetention, logger),
		recoverer:  dispatch.NewRecoverer(rt.Jobs, cfg.StaleAfter, cfg.DispatchMaxAttempts, logger),
		interval:   cfg.SweepInterval,
		pruneEvery: pruneInterval,
		logger:     logger,
	}
	if err := s.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker: failed to release runtime")
	}
	logger.Info().Msg("worker: stopped")
}
