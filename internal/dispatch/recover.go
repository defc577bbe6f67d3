package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StaleStore is the slice of the job store Recoverer needs.
type StaleStore interface {
	RecoverStale(ctx context.Context, before time.Time, maxAttempts int, errMsg string) (int64, error)
}

const staleMessage = "processing stalled: worker lost before writing a result"

// Recoverer returns jobs stranded in processing to the queue. A job lands
// there when its worker process dies mid-render or its final status write
// fails. The cutoff must exceed the longest legitimate gap between progress
// writes.
type Recoverer struct {
	store       StaleStore
	after       time.Duration
	maxAttempts int
	logger      zerolog.Logger
	now         func() time.Time
}

func NewRecoverer(store StaleStore, after time.Duration, maxAttempts int, logger zerolog.Logger) *Recoverer {
	if after <= 0 {
		after = 15 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Recoverer{
		store:       store,
		after:       after,
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("component", "dispatch").Logger(),
		now:         time.Now,
	}
}

// Recover moves processing jobs idle longer than the cutoff back to queued,
// or to failed once their attempts are spent.
func (r *Recoverer) Recover(ctx context.Context) (int64, error) {
	before := r.now().Add(-r.after)
	n, err := r.store.RecoverStale(ctx, before, r.maxAttempts, staleMessage)
	if err != nil {
		r.logger.Warn().Err(err).Msg("dispatch: recover stale jobs failed")
		return 0, err
	}
	if n > 0 {
		r.logger.Warn().Int64("recovered", n).Time("before", before).Msg("dispatch: stale processing jobs recovered")
	}
	return n, nil
}
