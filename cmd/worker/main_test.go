package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pdfforge/internal/dispatch"
)

type scriptedDrainer struct {
	mu      sync.Mutex
	results []dispatch.Result
	errs    []error
	calls   int
	stop    func()
	stopAt  int
}

func (d *scriptedDrainer) Drain(ctx context.Context, maxJobs int, maxDuration time.Duration) (dispatch.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if d.calls == d.stopAt {
		d.stop()
	}
	var res dispatch.Result
	var err error
	if i < len(d.results) {
		res = d.results[i]
	}
	if i < len(d.errs) {
		err = d.errs[i]
	}
	return res, err
}

type countingPruner struct{ n int }

func (p *countingPruner) Prune(context.Context) (int64, error) {
	p.n++
	return 0, nil
}

func TestSweeperDrainsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &scriptedDrainer{stop: cancel, stopAt: 3}
	p := &countingPruner{}
	s := &sweeper{drainer: d, pruner: p, interval: time.Millisecond, pruneEvery: time.Hour, logger: zerolog.Nop()}

	err := s.run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if d.calls < 3 {
		t.Fatalf("expected at least 3 drains, got %d", d.calls)
	}
	if p.n != 1 {
		t.Fatalf("prune should run once per prune interval, ran %d times", p.n)
	}
}

func TestSweeperKeepsGoingAfterErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &scriptedDrainer{
		errs:   []error{errors.New("list queued: connection reset"), dispatch.ErrCatastrophic},
		stop:   cancel,
		stopAt: 3,
	}
	s := &sweeper{drainer: d, interval: time.Millisecond, pruneEvery: time.Hour, logger: zerolog.Nop()}

	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	if d.calls < 3 {
		t.Fatalf("expected at least 3 drains, got %d", d.calls)
	}
}

func TestSweeperBacksOffAfterFullBatchThenCatastrophe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	errs := make([]error, 1000)
	for i := 1; i < len(errs); i++ {
		errs[i] = dispatch.ErrCatastrophic
	}
	d := &scriptedDrainer{
		results: []dispatch.Result{{Claimed: 5, Processed: 5, Completed: 5}},
		errs:    errs,
		stop:    func() {},
	}
	s := &sweeper{drainer: d, interval: 50 * time.Millisecond, pruneEvery: time.Hour, logger: zerolog.Nop()}

	if err := s.run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// full batch (immediate), catastrophe (wait 100ms), catastrophe (wait 200ms)
	if d.calls > 3 {
		t.Fatalf("catastrophic drains must back off, got %d drains in 200ms", d.calls)
	}
}

type countingRecoverer struct {
	mu sync.Mutex
	n  int
}

func (r *countingRecoverer) Recover(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return 0, nil
}

func TestSweeperRecoversStaleJobsBeforeDraining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &scriptedDrainer{stop: cancel, stopAt: 1}
	r := &countingRecoverer{}
	s := &sweeper{drainer: d, recoverer: r, interval: time.Hour, pruneEvery: time.Hour, logger: zerolog.Nop()}

	if err := s.run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if r.n != 1 {
		t.Fatalf("expected one recovery pass before the first drain, got %d", r.n)
	}
}
